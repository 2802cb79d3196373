// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A Synthesizer turns one complete response text into an encoded audio clip
// (MP3 or WAV). The clip is written to a scoped temporary artifact by the
// caller and handed to an audio.Player; it is never streamed.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// ErrEmptyText is returned when asked to synthesize blank text.
var ErrEmptyText = errors.New("tts: empty text")

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize renders text as speech. The returned clip is complete; an
	// error means no audio should be played.
	Synthesize(ctx context.Context, text string) (Speech, error)
}

// Func adapts an ordinary function to the [Synthesizer] interface.
type Func func(ctx context.Context, text string) (Speech, error)

// Synthesize calls f(ctx, text).
func (f Func) Synthesize(ctx context.Context, text string) (Speech, error) { return f(ctx, text) }
