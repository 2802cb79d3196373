// Package mock provides a test double for the tts.Synthesizer interface.
//
// Example:
//
//	s := &mock.Synthesizer{Audio: []byte("clip")}
//	speech, _ := s.Synthesize(ctx, "hello")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/dispatchvoice/pkg/provider/tts"
)

// Synthesizer is a mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned for every successful call. When nil, the text itself
	// is returned as the clip, which lets tests tell clips apart.
	Audio []byte

	// Encoding is reported for every clip. Defaults to MP3.
	Encoding tts.Encoding

	// Err, if non-nil, is returned by every call.
	Err error

	// FailFor maps exact texts to the error their synthesis returns. Other
	// texts are unaffected.
	FailFor map[string]error

	texts []string
}

// Synthesize records the call and returns the configured clip.
func (s *Synthesizer) Synthesize(_ context.Context, text string) (tts.Speech, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if err, ok := s.FailFor[text]; ok {
		return tts.Speech{}, err
	}
	if s.Err != nil {
		return tts.Speech{}, s.Err
	}
	clip := s.Audio
	if clip == nil {
		clip = []byte(text)
	}
	enc := s.Encoding
	if enc == "" {
		enc = tts.EncodingMP3
	}
	return tts.Speech{Audio: append([]byte(nil), clip...), Encoding: enc}, nil
}

// Texts returns every text passed to Synthesize, in order. Thread-safe.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)
