// Package mock provides a test double for the vad.Detector interface.
//
// Use Detector to script per-frame decisions and inspect the frames that were
// submitted for detection.
//
// Example:
//
//	det := &mock.Detector{Script: []vad.Decision{{Speech: true}, {Speech: false}}}
//	d := det.Detect(frame)
package mock

import (
	"sync"

	"github.com/MrWong99/dispatchvoice/pkg/provider/vad"
)

// Ensure Detector implements vad.Detector at compile time.
var _ vad.Detector = (*Detector)(nil)

// Detector is a mock implementation of vad.Detector.
type Detector struct {
	mu sync.Mutex

	// Script holds decisions returned in order, one per Detect call. Once the
	// script is exhausted, Default is returned.
	Script []vad.Decision

	// Default is returned when Script is empty.
	Default vad.Decision

	// Frames records a copy of every frame passed to Detect.
	Frames [][]int16
}

// Detect records the frame and returns the next scripted decision.
func (d *Detector) Detect(samples []int16) vad.Decision {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]int16, len(samples))
	copy(cp, samples)
	d.Frames = append(d.Frames, cp)
	if len(d.Script) == 0 {
		return d.Default
	}
	next := d.Script[0]
	d.Script = d.Script[1:]
	return next
}

// Calls returns the number of Detect invocations. Thread-safe.
func (d *Detector) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Frames)
}
