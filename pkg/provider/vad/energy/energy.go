// Package energy implements an amplitude-threshold [vad.Detector].
//
// It is a deliberate simplification compared with spectral or learned VAD: a
// single tunable scalar decides speech versus silence, which works well for a
// single speaker in a quiet room and is trivial to calibrate per microphone.
package energy

import (
	"math"

	"github.com/MrWong99/dispatchvoice/pkg/provider/vad"
)

// DefaultThreshold suits a close-talking microphone at 16-bit full scale.
const DefaultThreshold = 700.0

var _ vad.Detector = (*Detector)(nil)

// Detector flags frames whose energy exceeds Threshold.
type Detector struct {
	threshold float64
	metric    vad.Metric
}

// Option configures a Detector.
type Option func(*Detector)

// WithMetric selects the energy measure. Defaults to [vad.MetricMeanAbs].
func WithMetric(m vad.Metric) Option {
	return func(d *Detector) { d.metric = m }
}

// New returns a Detector. A non-positive threshold selects [DefaultThreshold].
func New(threshold float64, opts ...Option) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	d := &Detector{threshold: threshold}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Threshold returns the configured speech threshold.
func (d *Detector) Threshold() float64 { return d.threshold }

// Detect implements [vad.Detector].
func (d *Detector) Detect(samples []int16) vad.Decision {
	var e float64
	switch d.metric {
	case vad.MetricRMS:
		e = RMS(samples)
	default:
		e = MeanAbs(samples)
	}
	return vad.Decision{Speech: e > d.threshold, Energy: e}
}

// MeanAbs returns the mean absolute sample value. Returns 0 for an empty frame.
func MeanAbs(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return float64(sum) / float64(len(samples))
}

// RMS returns the root-mean-square energy. Returns 0 for an empty frame.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
