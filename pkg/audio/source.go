// Package audio defines the audio types and device-facing interfaces used by
// dispatchvoice.
//
// The two device abstractions are:
//
//   - [FrameSource] opens a capture device (or a replay file) and returns a
//     [FrameStream] of fixed-size PCM frames.
//   - [Player] plays one synthesized speech clip and returns when playback has
//     finished or failed.
//
// Implementations live in sub-packages (audio/capture, audio/playback). The
// interfaces are kept narrow so the call controller never depends on a
// concrete device.
package audio

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by [FrameStream.Read] after Close has been called.
var ErrStreamClosed = errors.New("audio: stream closed")

// FrameStream is an open capture stream.
//
// Read blocks until the next frame is available. It returns [io.EOF] when a
// finite source (a replay file) is exhausted, [ErrStreamClosed] after Close,
// and any other error for device failures. Close may be called from a
// different goroutine than Read and unblocks a pending Read. Calling Close more
// than once is safe.
type FrameStream interface {
	Read(ctx context.Context) (Frame, error)
	Close() error
}

// FrameSource opens capture streams.
type FrameSource interface {
	// Open starts capturing in format f with frameSamples interleaved samples
	// per frame. The returned stream must be closed by the caller.
	Open(ctx context.Context, f Format, frameSamples int) (FrameStream, error)
}

// Player plays encoded speech audio (MP3 as returned by the synthesizer).
//
// Play blocks until playback completes or ctx is cancelled. Failures are
// reported but callers treat them as non-fatal.
type Player interface {
	Play(ctx context.Context, clip []byte) error
}
