package stt

import (
	"strings"
	"time"
)

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the detected or requested language, if the backend reports it.
	Language string

	// Duration is the length of the transcribed audio, if known.
	Duration time.Duration
}

// Blank reports whether the transcript carries no words.
func (t Transcript) Blank() bool { return strings.TrimSpace(t.Text) == "" }
