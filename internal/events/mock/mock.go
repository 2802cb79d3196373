// Package mock provides an in-memory [events.Sink] for tests.
package mock

import (
	"sync"

	"github.com/MrWong99/dispatchvoice/internal/events"
)

var _ events.Sink = (*Recorder)(nil)

// Recorder records every published event. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event

	// OnPublish, if set, is called synchronously after the event is recorded.
	OnPublish func(events.Event)
}

// Publish implements [events.Sink].
func (r *Recorder) Publish(e events.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	fn := r.OnPublish
	r.mu.Unlock()
	if fn != nil {
		fn(e)
	}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

// OfType returns the recorded events with type t, in publish order.
func (r *Recorder) OfType(t events.Type) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Transcript returns the recorded transcript lines as "role: text".
func (r *Recorder) Transcript() []string {
	var out []string
	for _, e := range r.OfType(events.TypeTranscript) {
		out = append(out, string(e.Role)+": "+e.Text)
	}
	return out
}
