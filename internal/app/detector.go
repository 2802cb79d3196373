package app

import (
	"sync/atomic"

	"github.com/MrWong99/dispatchvoice/pkg/provider/vad"
)

// swapDetector lets a config reload recalibrate the energy threshold without
// rebuilding the call controller. The capture loop sees the new detector on
// its next frame.
type swapDetector struct {
	cur atomic.Pointer[vad.Detector]
}

var _ vad.Detector = (*swapDetector)(nil)

func newSwapDetector(d vad.Detector) *swapDetector {
	s := &swapDetector{}
	s.Swap(d)
	return s
}

// Swap installs d for subsequent frames.
func (s *swapDetector) Swap(d vad.Detector) { s.cur.Store(&d) }

// Detect implements [vad.Detector].
func (s *swapDetector) Detect(samples []int16) vad.Decision {
	return (*s.cur.Load()).Detect(samples)
}
