package audio

import "time"

// Format describes the sample rate and channel count of a 16-bit PCM stream.
type Format struct {
	// SampleRate in Hz (e.g., 16000 for capture and transcription).
	SampleRate int

	// Channels: 1 for mono capture, 2 for decoded stereo speech.
	Channels int
}

// Valid reports whether both the sample rate and the channel count are positive.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

// Duration returns the playing time of n interleaved samples in this format.
// Returns 0 for an invalid format.
func (f Format) Duration(n int) time.Duration {
	if !f.Valid() {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.SampleRate*f.Channels)
}

// Samples returns the number of interleaved samples that cover d.
func (f Format) Samples(d time.Duration) int {
	if !f.Valid() {
		return 0
	}
	return int(d * time.Duration(f.SampleRate*f.Channels) / time.Second)
}

// Frame is a fixed-length block of signed 16-bit samples read from a
// [FrameStream]. Frames are immutable once produced; consumers that keep a
// frame beyond the next Read must not modify its Samples.
type Frame struct {
	// Samples holds interleaved PCM. Its length is the stream's frame size.
	Samples []int16

	// Offset marks where this frame starts, relative to stream start.
	Offset time.Duration
}

// Utterance is one finalized, duration-checked speech episode. It is handed to
// a transcriber as a whole and never modified afterwards.
type Utterance struct {
	Samples []int16
	Format  Format
}

// Duration returns the utterance length.
func (u Utterance) Duration() time.Duration {
	return u.Format.Duration(len(u.Samples))
}

// Empty reports whether the utterance carries no audio.
func (u Utterance) Empty() bool { return len(u.Samples) == 0 }
