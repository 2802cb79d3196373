package call

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/dispatchvoice/internal/segment"
	"github.com/MrWong99/dispatchvoice/pkg/audio"
)

// Spoken messages.
const (
	DefaultGreeting       = "911, what's your emergency?"
	DefaultFallback       = "I'm experiencing technical difficulties. Please hold."
	DefaultShutdownNotice = "This call is being disconnected due to a technical problem."
)

// DefaultTeardownTimeout bounds the shutdown notice and thread cleanup.
const DefaultTeardownTimeout = 10 * time.Second

// CaptureFormat is the capture and transcription format: 16 kHz mono.
var CaptureFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Config holds the per-call parameters. A changed Config applies to the next
// call; the live call keeps the one it started with.
type Config struct {
	// Segment configures utterance detection, including the capture format
	// and frame duration.
	Segment segment.Config

	// PollInterval and PollTimeout bound the wait for each dialogue reply.
	PollInterval time.Duration
	PollTimeout  time.Duration

	Greeting       string
	Fallback       string
	ShutdownNotice string

	// TempParent is where per-call temp directories are created. Empty uses
	// the system temp directory.
	TempParent string

	// TeardownTimeout bounds the shutdown notice and thread deletion.
	TeardownTimeout time.Duration
}

// DefaultConfig returns the reference configuration: 16 kHz mono in 50 ms
// frames, 1.5 s silence timeout, 50 ms minimum utterance, polling every
// 0.5 s for up to 30 s.
func DefaultConfig() Config {
	return Config{
		Segment: segment.Config{
			Format:         CaptureFormat,
			FrameDuration:  segment.DefaultFrameDuration,
			SilenceTimeout: segment.DefaultSilenceTimeout,
			MinUtterance:   segment.DefaultMinUtterance,
		},
		PollInterval:    DefaultPollInterval,
		PollTimeout:     DefaultPollTimeout,
		Greeting:        DefaultGreeting,
		Fallback:        DefaultFallback,
		ShutdownNotice:  DefaultShutdownNotice,
		TeardownTimeout: DefaultTeardownTimeout,
	}
}

// FrameSamples returns the number of samples per capture frame.
func (c Config) FrameSamples() int {
	return c.Segment.Format.Samples(c.Segment.FrameDuration)
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if err := c.Segment.Validate(); err != nil {
		errs = append(errs, err)
	} else if c.FrameSamples() <= 0 {
		errs = append(errs, fmt.Errorf("call: frame duration %v holds no samples", c.Segment.FrameDuration))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("call: poll interval must be positive"))
	}
	if c.PollTimeout < c.PollInterval {
		errs = append(errs, errors.New("call: poll timeout must not be below the poll interval"))
	}
	if c.Fallback == "" {
		errs = append(errs, errors.New("call: fallback message must not be empty"))
	}
	if c.TeardownTimeout < 0 {
		errs = append(errs, errors.New("call: teardown timeout must not be negative"))
	}
	return errors.Join(errs...)
}
