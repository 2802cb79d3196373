// Package vad defines the Detector interface for frame-level voice activity
// detection.
//
// A Detector classifies a single PCM frame as speech or non-speech and reports
// the energy it measured. Detectors are stateless: utterance boundaries,
// silence runs and buffering belong to the caller (see internal/segment), so a
// single Detector may be shared by any number of streams.
//
// Detection is synchronous: Detect returns immediately and never blocks, which
// keeps it safe to call from the capture loop.
package vad

// Detector classifies PCM frames.
//
// Implementations must be safe for concurrent use.
type Detector interface {
	// Detect analyses one frame of interleaved signed 16-bit samples. An empty
	// frame is never speech.
	Detect(samples []int16) Decision
}
