package resilience

import (
	"context"

	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with failover across several
// speech backends.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesizer.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// States reports the breaker state of every backend.
func (f *TTSFallback) States() map[string]State { return f.group.States() }

// Synthesize implements [tts.Synthesizer].
func (f *TTSFallback) Synthesize(ctx context.Context, text string) (tts.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(s tts.Synthesizer) (tts.Speech, error) {
		return s.Synthesize(ctx, text)
	})
}
