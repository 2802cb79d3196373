// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// A Transcriber turns one finalized utterance into text. The caller hands it
// a WAV-encoded clip (usually streamed from a scoped temporary file) and gets
// back a [Transcript]. Batch transcription matches how calls are processed:
// each utterance is transcribed exactly once, after the segmenter has decided
// where it ends.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"io"
)

// ErrEmptyAudio is returned when a request carries no audio.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Request is one utterance to transcribe.
type Request struct {
	// Audio is a WAV-encoded clip. It is read exactly once.
	Audio io.Reader

	// Name is the file name presented to the backend, e.g. "utterance-3.wav".
	// Backends infer the container from the extension.
	Name string

	// Language is an ISO-639-1 hint ("en"). Empty lets the backend detect it.
	Language string

	// Prompt is optional context that biases recognition (e.g. "911 call").
	Prompt string
}

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe returns the text spoken in req.Audio. A clip containing only
	// silence or noise yields a Transcript with empty Text and a nil error;
	// deciding what to do with it is the caller's business.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// Func adapts an ordinary function to the [Transcriber] interface.
type Func func(ctx context.Context, req Request) (Transcript, error)

// Transcribe calls f(ctx, req).
func (f Func) Transcribe(ctx context.Context, req Request) (Transcript, error) { return f(ctx, req) }
