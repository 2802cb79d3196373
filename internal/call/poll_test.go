package call

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoll(t *testing.T) {
	t.Parallel()
	errBoom := errors.New("boom")

	tests := []struct {
		name         string
		doneAfter    int
		failAt       int
		active       func() bool
		timeout      time.Duration
		wantErr      error
		wantAttempts int
	}{
		{name: "completes first try", doneAfter: 1, wantAttempts: 1},
		{name: "completes after pending", doneAfter: 4, wantAttempts: 4},
		{name: "check error", doneAfter: 10, failAt: 2, wantErr: errBoom, wantAttempts: 2},
		{name: "inactive before first poll", doneAfter: 1, active: func() bool { return false }, wantErr: ErrCallEnded},
		{name: "timeout", doneAfter: 1 << 30, timeout: 30 * time.Millisecond, wantErr: ErrRemoteTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			timeout := tc.timeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			n := 0
			attempts, err := Poll(context.Background(), time.Millisecond, timeout, tc.active, func(context.Context) (bool, error) {
				n++
				if n == tc.failAt {
					return false, errBoom
				}
				return n >= tc.doneAfter, nil
			})
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if tc.wantAttempts > 0 && attempts != tc.wantAttempts {
				t.Errorf("attempts = %d, want %d", attempts, tc.wantAttempts)
			}
			if attempts != n {
				t.Errorf("attempts = %d but check ran %d times", attempts, n)
			}
		})
	}
}

func TestPoll_StopsWhenFlagFlips(t *testing.T) {
	t.Parallel()
	var active atomic.Bool
	active.Store(true)
	n := 0
	_, err := Poll(context.Background(), time.Millisecond, 5*time.Second, active.Load, func(context.Context) (bool, error) {
		n++
		if n == 3 {
			active.Store(false)
		}
		return false, nil
	})
	if !errors.Is(err, ErrCallEnded) {
		t.Fatalf("err = %v, want ErrCallEnded", err)
	}
	if n != 3 {
		t.Errorf("checks = %d, want 3", n)
	}
}

func TestPoll_ContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	_, err := Poll(ctx, time.Hour, time.Hour, nil, func(context.Context) (bool, error) {
		cancel()
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestPoll_Defaults(t *testing.T) {
	t.Parallel()
	start := time.Now()
	attempts, err := Poll(context.Background(), 0, 0, nil, func(context.Context) (bool, error) { return true, nil })
	if err != nil || attempts != 1 {
		t.Fatalf("Poll = %d, %v", attempts, err)
	}
	if time.Since(start) > DefaultPollInterval {
		t.Error("a completed first check must not wait for the interval")
	}
}
