package call

import (
	"context"
	"time"
)

// Default poll cadence for dialogue runs.
const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultPollTimeout  = 30 * time.Second
)

// Poll calls check until it reports done, fails, or the wait is abandoned.
// The first check runs immediately; later ones follow every interval.
//
// Poll returns the number of checks made and:
//   - nil when check reported done,
//   - the error check returned,
//   - [ErrRemoteTimeout] once timeout has elapsed,
//   - [ErrCallEnded] when active (optional) reports false,
//   - ctx.Err() when ctx is done.
func Poll(ctx context.Context, interval, timeout time.Duration, active func() bool, check func(context.Context) (bool, error)) (int, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()
	start := time.Now()

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, err
		}
		if active != nil && !active() {
			return attempts, ErrCallEnded
		}
		attempts++
		done, err := check(ctx)
		if err != nil {
			return attempts, err
		}
		if done {
			return attempts, nil
		}
		if time.Since(start) >= timeout {
			return attempts, ErrRemoteTimeout
		}
		select {
		case <-ctx.Done():
			return attempts, ctx.Err()
		case <-deadline.C:
			return attempts, ErrRemoteTimeout
		case <-tick.C:
		}
	}
}
