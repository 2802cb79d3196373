// Package mock provides a test double for the stt.Transcriber interface.
//
// Script the responses with Results; each call consumes the next entry and
// the last entry repeats. Every call is recorded with a copy of its audio.
//
// Example:
//
//	tr := &mock.Transcriber{Results: []mock.Result{{Text: "help"}, {Err: errBoom}}}
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/dispatchvoice/pkg/provider/stt"
)

// Result is one scripted response.
type Result struct {
	Text string
	Err  error
}

// Call records a single invocation of Transcribe.
type Call struct {
	Audio    []byte
	Name     string
	Language string
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Results are returned in order; the last one repeats. With no results
	// Transcribe returns an empty transcript.
	Results []Result

	// OnTranscribe, if set, runs before the result is returned. It may block
	// to simulate a slow backend.
	OnTranscribe func(ctx context.Context, req stt.Request)

	calls []Call
}

// Transcribe records the call and returns the next scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	var data []byte
	if req.Audio != nil {
		data, _ = io.ReadAll(req.Audio)
	}
	if t.OnTranscribe != nil {
		t.OnTranscribe(ctx, req)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.calls)
	t.calls = append(t.calls, Call{Audio: data, Name: req.Name, Language: req.Language})
	if len(t.Results) == 0 {
		return stt.Transcript{}, nil
	}
	r := t.Results[min(n, len(t.Results)-1)]
	if r.Err != nil {
		return stt.Transcript{}, r.Err
	}
	return stt.Transcript{Text: r.Text, Language: req.Language}, nil
}

// Calls returns a copy of the recorded calls. Thread-safe.
func (t *Transcriber) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Call(nil), t.calls...)
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
