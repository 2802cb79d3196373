package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/events"
	"github.com/MrWong99/dispatchvoice/pkg/calllog"
)

const (
	recorderQueueSize    = 256
	recorderWriteTimeout = 5 * time.Second
)

// callRecorder is an [events.Sink] that persists call events into a
// [calllog.Store] on its own goroutine, so a slow database never delays a
// turn. When the queue is full the event is dropped and counted.
type callRecorder struct {
	store calllog.Store
	queue chan events.Event
	done  chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
}

var _ events.Sink = (*callRecorder)(nil)

func newCallRecorder(store calllog.Store, size int) *callRecorder {
	if size <= 0 {
		size = recorderQueueSize
	}
	r := &callRecorder{
		store: store,
		queue: make(chan events.Event, size),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Publish implements [events.Sink].
func (r *callRecorder) Publish(e events.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.dropped.Add(1)
		slog.Warn("calllog: queue full, dropping event", "type", e.Type, "call_id", e.CallID)
	}
}

// Dropped returns the number of events lost to a full queue.
func (r *callRecorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting events and waits until the queued ones are written
// or ctx expires.
func (r *callRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *callRecorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *callRecorder) write(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recorderWriteTimeout)
	defer cancel()

	var err error
	switch e.Type {
	case events.TypeCallStarted:
		err = r.store.StartCall(ctx, e.CallID, e.Timestamp)
	case events.TypeTranscript:
		err = r.store.AppendEntry(ctx, calllog.Entry{
			CallID:    e.CallID,
			Role:      string(e.Role),
			Text:      e.Text,
			Timestamp: e.Timestamp,
		})
	case events.TypeSummary:
		if e.Summary == nil {
			return
		}
		err = r.store.SaveSummary(ctx, e.CallID, *e.Summary)
	case events.TypeCallEnded:
		err = r.store.EndCall(ctx, e.CallID, e.Timestamp, e.Reason)
	default:
		return
	}
	if err != nil {
		slog.Warn("calllog: write failed", "type", e.Type, "call_id", e.CallID, "err", err)
	}
}
