package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/dispatchvoice/pkg/provider/stt"
)

// STTFallback implements [stt.Transcriber] with failover across several
// transcription backends.
type STTFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional transcriber.
func (f *STTFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// States reports the breaker state of every backend.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe implements [stt.Transcriber]. The audio is buffered once so that
// every attempt reads the whole clip.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if req.Audio == nil {
		return stt.Transcript{}, stt.ErrEmptyAudio
	}
	clip, err := io.ReadAll(req.Audio)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("stt fallback: read audio: %w", err)
	}
	return ExecuteWithResult(ctx, f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		attempt := req
		attempt.Audio = bytes.NewReader(clip)
		return t.Transcribe(ctx, attempt)
	})
}
