package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/MrWong99/dispatchvoice/pkg/provider/dialogue"
	dialoguemock "github.com/MrWong99/dispatchvoice/pkg/provider/dialogue/mock"
	"github.com/MrWong99/dispatchvoice/pkg/provider/stt"
	sttmock "github.com/MrWong99/dispatchvoice/pkg/provider/stt/mock"
	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
	ttsmock "github.com/MrWong99/dispatchvoice/pkg/provider/tts/mock"
)

var threeStrikes = FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}

func TestFallbackGroup_Order(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", threeStrikes)
	fg.AddFallback("secondary", "secondary")

	var called []string
	err := fg.Execute(context.Background(), func(v string) error {
		called = append(called, v)
		if v == "primary" {
			return errTest
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(called) != 2 || called[1] != "secondary" {
		t.Fatalf("called = %v", called)
	}
	if fg.Len() != 2 {
		t.Errorf("Len() = %d", fg.Len())
	}
}

func TestFallbackGroup_AllFailJoinsErrors(t *testing.T) {
	errA, errB := errors.New("a down"), errors.New("b down")
	fg := NewFallbackGroup(errA, "a", threeStrikes)
	fg.AddFallback("b", errB)

	err := fg.Execute(context.Background(), func(e error) error { return e })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping both", err)
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	if fg.States()["primary"] != StateOpen {
		t.Fatalf("states = %v", fg.States())
	}

	var called string
	_ = fg.Execute(context.Background(), func(v string) error { called = v; return nil })
	if called != "secondary" {
		t.Fatalf("called = %q, want secondary", called)
	}
}

func TestExecuteWithResult_StopsOnCancelledContext(t *testing.T) {
	fg := NewFallbackGroup(1, "one", threeStrikes)
	fg.AddFallback("two", 2)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := ExecuteWithResult(ctx, fg, func(int) (int, error) {
		calls++
		cancel()
		return 0, context.Canceled
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestSTTFallback_ReplaysAudio(t *testing.T) {
	primary := &sttmock.Transcriber{Results: []sttmock.Result{{Err: errors.New("primary down")}}}
	secondary := &sttmock.Transcriber{Results: []sttmock.Result{{Text: "help"}}}
	fb := NewSTTFallback(primary, "primary", threeStrikes)
	fb.AddFallback("secondary", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Request{Audio: bytes.NewReader([]byte("wav-bytes"))})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "help" {
		t.Errorf("text = %q", got.Text)
	}
	for name, m := range map[string]*sttmock.Transcriber{"primary": primary, "secondary": secondary} {
		calls := m.Calls()
		if len(calls) != 1 || string(calls[0].Audio) != "wav-bytes" {
			t.Errorf("%s saw %+v", name, calls)
		}
	}
}

func TestSTTFallback_NilAudio(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Transcriber{}, "p", threeStrikes)
	if _, err := fb.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestSTTFallback_ReadError(t *testing.T) {
	p := &sttmock.Transcriber{}
	fb := NewSTTFallback(p, "p", threeStrikes)
	if _, err := fb.Transcribe(context.Background(), stt.Request{Audio: failingReader{}}); err == nil {
		t.Fatal("expected read error")
	}
	if p.CallCount() != 0 {
		t.Error("backend called despite unreadable audio")
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	primary := &ttsmock.Synthesizer{Err: errors.New("quota")}
	secondary := &ttsmock.Synthesizer{Encoding: tts.EncodingWAV}
	fb := NewTTSFallback(primary, "openai", threeStrikes)
	fb.AddFallback("coqui", secondary)

	got, err := fb.Synthesize(context.Background(), "Please hold.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Encoding != tts.EncodingWAV || string(got.Audio) != "Please hold." {
		t.Errorf("speech = %+v", got)
	}
	if len(fb.States()) != 2 {
		t.Errorf("states = %v", fb.States())
	}
}

func TestDialogueBreaker_FailedRunsOpen(t *testing.T) {
	c := &dialoguemock.Client{FailRun: true, Replies: []string{"x"}}
	d := NewDialogueBreaker(c, CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	ctx := context.Background()

	for range 2 {
		st, err := d.PollStatus(ctx, "thread-1", "run-1")
		if st != dialogue.StatusFailed || err != nil {
			t.Fatalf("PollStatus = %s, %v; want failed without error", st, err)
		}
	}
	if d.State() != StateOpen {
		t.Fatalf("state = %v, want open", d.State())
	}
	if _, err := d.RequestResponse(ctx, "thread-1"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("RequestResponse err = %v, want ErrCircuitOpen", err)
	}
	if err := d.DeleteThread(ctx, "thread-1"); err != nil {
		t.Errorf("DeleteThread must bypass the breaker: %v", err)
	}
	if got := c.Deleted(); len(got) != 1 {
		t.Errorf("deleted = %v", got)
	}
}

func TestDialogueBreaker_PassThrough(t *testing.T) {
	c := &dialoguemock.Client{Replies: []string{"Where are you?"}}
	d := NewDialogueBreaker(c, CircuitBreakerConfig{})
	ctx := context.Background()

	thread, err := d.CreateThread(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.PostMessage(ctx, thread, dialogue.RoleUser, "fire"); err != nil {
		t.Fatal(err)
	}
	run, _ := d.RequestResponse(ctx, thread)
	if st, _ := d.PollStatus(ctx, thread, run); st != dialogue.StatusCompleted {
		t.Fatalf("status = %s", st)
	}
	text, err := d.FetchResponse(ctx, thread, run)
	if err != nil || text != "Where are you?" {
		t.Fatalf("FetchResponse = %q, %v", text, err)
	}
}

func TestDialogueBreaker_CancelRunBypassesOpenBreaker(t *testing.T) {
	c := &dialoguemock.Client{PollErr: errors.New("backend down")}
	d := NewDialogueBreaker(c, CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour})
	ctx := context.Background()

	_, _ = d.PollStatus(ctx, "thread-1", "run-1")
	if d.State() != StateOpen {
		t.Fatalf("state = %v, want open", d.State())
	}
	if err := d.CancelRun(ctx, "thread-1", "run-1"); err != nil {
		t.Fatalf("CancelRun with open breaker: %v", err)
	}
	if got := c.Cancelled(); len(got) != 1 || got[0] != "run-1" {
		t.Errorf("cancelled = %v", got)
	}
}
