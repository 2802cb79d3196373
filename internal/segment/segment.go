// Package segment turns a continuous stream of PCM frames into discrete
// utterances using an energy threshold and a trailing-silence timeout.
//
// The segmenter is a two-state machine:
//
//	Idle      --energy > threshold-->            Recording
//	Recording --speech, or silence budget left--> Recording
//	Recording --silence budget exhausted-->      Idle (emit or discard)
//
// While recording, quiet frames are kept in the buffer so that utterances end
// with a natural silence tail. When the silence run reaches the configured
// timeout the buffer is finalized: it is emitted as an [audio.Utterance] when
// it is at least MinUtterance long and silently discarded otherwise. Either
// way the segmenter returns to Idle with an empty buffer.
//
// A Segmenter is confined to a single goroutine (the capture loop) and is not
// safe for concurrent use.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/dispatchvoice/pkg/audio"
	"github.com/MrWong99/dispatchvoice/pkg/provider/vad"
)

// Defaults taken from the reference deployment: 16 kHz mono, 50 ms frames.
const (
	DefaultSilenceTimeout = 1500 * time.Millisecond
	DefaultMinUtterance   = 50 * time.Millisecond
	DefaultFrameDuration  = 50 * time.Millisecond
)

// State is the segmenter state.
type State int

const (
	// Idle means no speech has been detected since the last finalize.
	Idle State = iota

	// Recording means frames are being accumulated into an utterance.
	Recording
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Recording:
		return "RECORDING"
	default:
		return "UNKNOWN"
	}
}

// Config holds the segmenter parameters.
type Config struct {
	// Format of the incoming frames.
	Format audio.Format

	// FrameDuration is the fixed length of one frame. Silence is measured as
	// silent frame count times FrameDuration.
	FrameDuration time.Duration

	// SilenceTimeout is the trailing silence that ends an utterance.
	SilenceTimeout time.Duration

	// MinUtterance is the shortest buffer that is emitted. Shorter buffers are
	// discarded without transcription.
	MinUtterance time.Duration

	// MaxUtterance force-finalizes a recording that grows past this length.
	// Zero disables the cap.
	MaxUtterance time.Duration

	// OnDiscard, if set, is called with the buffer length whenever a
	// sub-minimum buffer is dropped.
	OnDiscard func(time.Duration)
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if !c.Format.Valid() {
		errs = append(errs, fmt.Errorf("segment: invalid format %+v", c.Format))
	}
	if c.FrameDuration <= 0 {
		errs = append(errs, errors.New("segment: frame duration must be positive"))
	}
	if c.SilenceTimeout <= 0 {
		errs = append(errs, errors.New("segment: silence timeout must be positive"))
	}
	if c.MinUtterance < 0 {
		errs = append(errs, errors.New("segment: min utterance must not be negative"))
	}
	if c.MaxUtterance != 0 && c.MaxUtterance < c.MinUtterance {
		errs = append(errs, errors.New("segment: max utterance must not be below min utterance"))
	}
	return errors.Join(errs...)
}

// Segmenter is the frame-by-frame utterance state machine.
type Segmenter struct {
	cfg      Config
	detector vad.Detector

	recording    bool
	silentFrames int
	buffer       []audio.Frame
	samples      int
}

// New returns an idle Segmenter.
func New(cfg Config, detector vad.Detector) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, errors.New("segment: detector must not be nil")
	}
	return &Segmenter{cfg: cfg, detector: detector}, nil
}

// State returns the current state.
func (s *Segmenter) State() State {
	if s.recording {
		return Recording
	}
	return Idle
}

// Buffered returns the duration currently held in the speech buffer.
func (s *Segmenter) Buffered() time.Duration {
	return s.cfg.Format.Duration(s.samples)
}

// Feed processes one frame. It returns a finalized utterance and true when
// this frame completed one that passed the minimum duration check.
func (s *Segmenter) Feed(frame audio.Frame) (audio.Utterance, bool) {
	d := s.detector.Detect(frame.Samples)

	switch {
	case d.Speech:
		if !s.recording {
			s.recording = true
			s.clear()
		}
		s.append(frame)
		s.silentFrames = 0
		if s.cfg.MaxUtterance > 0 && s.Buffered() >= s.cfg.MaxUtterance {
			return s.finalize()
		}

	case s.recording:
		s.append(frame)
		s.silentFrames++
		if time.Duration(s.silentFrames)*s.cfg.FrameDuration >= s.cfg.SilenceTimeout {
			return s.finalize()
		}
	}
	return audio.Utterance{}, false
}

// Flush finalizes a pending recording as if its silence budget had run out.
// It is used when the stream ends while the caller is still speaking.
func (s *Segmenter) Flush() (audio.Utterance, bool) {
	if !s.recording {
		return audio.Utterance{}, false
	}
	return s.finalize()
}

// Reset drops any buffered audio and returns to Idle. Call it after a capture
// error so the next stream starts from a clean state.
func (s *Segmenter) Reset() {
	s.recording = false
	s.clear()
}

func (s *Segmenter) append(f audio.Frame) {
	s.buffer = append(s.buffer, f)
	s.samples += len(f.Samples)
}

func (s *Segmenter) clear() {
	s.buffer = nil
	s.samples = 0
	s.silentFrames = 0
}

// finalize applies the duration check and always returns to Idle.
func (s *Segmenter) finalize() (audio.Utterance, bool) {
	dur := s.Buffered()
	var (
		u  audio.Utterance
		ok bool
	)
	if dur >= s.cfg.MinUtterance && s.samples > 0 {
		samples := make([]int16, 0, s.samples)
		for _, f := range s.buffer {
			samples = append(samples, f.Samples...)
		}
		u = audio.Utterance{Samples: samples, Format: s.cfg.Format}
		ok = true
	} else if s.cfg.OnDiscard != nil {
		s.cfg.OnDiscard(dur)
	}
	s.recording = false
	s.clear()
	return u, ok
}
