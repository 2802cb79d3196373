package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/events"
	"github.com/MrWong99/dispatchvoice/internal/extract"
	"github.com/MrWong99/dispatchvoice/internal/segment"
	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

// Line is one transcript line of a call.
type Line struct {
	Role events.Role
	Text string
	At   time.Time
}

// Session is one live call. It is created by [Controller.StartCall] and
// stays readable after the call ended.
//
// The segmenter belongs to the capture goroutine; the thread, the sequence
// counter and the summary are written only by the turn goroutine. Readers
// use the snapshot accessors, which are safe for concurrent use.
type Session struct {
	id        string
	startedAt time.Time
	cfg       Config
	thread    string
	dir       *TempDir
	stream    audio.FrameStream
	seg       *segment.Segmenter
	queue     *utteranceQueue
	cancel    context.CancelFunc

	inProgress atomic.Bool
	seq        int

	mu      sync.Mutex
	summary extract.Summary
	lines   []Line

	done       chan struct{}
	err        error
	cleanupErr error
	reason     string
}

// ID returns the call ID.
func (s *Session) ID() string { return s.id }

// StartedAt returns when the call was started.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// ThreadID returns the dialogue thread of the call.
func (s *Session) ThreadID() string { return s.thread }

// TempDir returns the path of the call's scratch directory. It no longer
// exists once the call ended.
func (s *Session) TempDir() string { return s.dir.Path() }

// Active reports whether the call is still in progress.
func (s *Session) Active() bool { return s.inProgress.Load() }

// Summary returns a snapshot of the emergency summary.
func (s *Session) Summary() extract.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary.Clone()
}

// Transcript returns a copy of the transcript so far.
func (s *Session) Transcript() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Line(nil), s.lines...)
}

// Done is closed when the call has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the call (a [DeviceError]) or nil for a
// normal hang-up. Only meaningful after Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// EndReason describes why the call ended; empty for a normal hang-up.
func (s *Session) EndReason() string {
	select {
	case <-s.done:
		return s.reason
	default:
		return ""
	}
}

func (s *Session) record(role events.Role, text string) {
	s.mu.Lock()
	s.lines = append(s.lines, Line{Role: role, Text: text, At: time.Now()})
	s.mu.Unlock()
}

// apply folds a caller transcript into the summary and returns the new
// snapshot when anything changed.
func (s *Session) apply(e *extract.Engine, text string) (extract.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.Apply(&s.summary, text) {
		return extract.Summary{}, false
	}
	return s.summary.Clone(), true
}

func (s *Session) finish(err, cleanupErr error, reason string) {
	s.err, s.cleanupErr, s.reason = err, cleanupErr, reason
	close(s.done)
}
