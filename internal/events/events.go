// Package events carries call activity (transcript lines, summary snapshots
// and lifecycle changes) from the call controller to display clients.
//
// The controller publishes to a [Sink]; it never blocks on delivery and never
// learns whether anybody is listening. [Hub] is the WebSocket implementation
// used by the HTTP server.
package events

import (
	"sync"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/extract"
)

// Type names an event on the wire.
type Type string

const (
	TypeTranscript  Type = "transcript_update"
	TypeSummary     Type = "summary_update"
	TypeCallStarted Type = "call_started"
	TypeCallEnded   Type = "call_ended"
	TypeError       Type = "error"
)

// Role identifies the speaker of a transcript line.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleResponder Role = "responder"
)

// Event is one message pushed to display clients.
type Event struct {
	Type      Type             `json:"type"`
	CallID    string           `json:"call_id,omitempty"`
	Role      Role             `json:"role,omitempty"`
	Text      string           `json:"text,omitempty"`
	Summary   *extract.Summary `json:"summary,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// Transcript builds a transcript_update event stamped with the current time.
func Transcript(callID string, role Role, text string) Event {
	return Event{Type: TypeTranscript, CallID: callID, Role: role, Text: text, Timestamp: time.Now()}
}

// SummaryUpdate builds a summary_update event carrying a copy of s.
func SummaryUpdate(callID string, s extract.Summary) Event {
	c := s.Clone()
	return Event{Type: TypeSummary, CallID: callID, Summary: &c, Timestamp: time.Now()}
}

// Lifecycle builds a call_started or call_ended event. reason is only set
// for calls that ended abnormally.
func Lifecycle(t Type, callID, reason string) Event {
	return Event{Type: t, CallID: callID, Reason: reason, Timestamp: time.Now()}
}

// Sink receives events. Publish must not block the caller for long and must
// be safe for concurrent use.
type Sink interface {
	Publish(e Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Publish implements [Sink].
func (f SinkFunc) Publish(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// Multi fans every event out to each non-nil sink in order.
func Multi(sinks ...Sink) Sink {
	var out multi
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multi []Sink

func (m multi) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}

// Latest remembers the most recent summary per call so late readers (the
// HTTP summary endpoint, newly connected clients) can catch up.
type Latest struct {
	mu      sync.Mutex
	callID  string
	summary extract.Summary
	active  bool
}

// Publish implements [Sink].
func (l *Latest) Publish(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch e.Type {
	case TypeCallStarted:
		l.callID, l.summary, l.active = e.CallID, extract.Summary{}, true
	case TypeSummary:
		if e.Summary != nil {
			l.callID, l.summary = e.CallID, e.Summary.Clone()
		}
	case TypeCallEnded:
		l.active = false
	}
}

// Summary returns the last summary seen, its call ID and whether that call
// is still live.
func (l *Latest) Summary() (callID string, s extract.Summary, active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.callID, l.summary.Clone(), l.active
}
