package vad

// Decision is the detection result for a single frame.
type Decision struct {
	// Speech is true when Energy is strictly above the detector's threshold.
	Speech bool

	// Energy is the measured frame energy in PCM sample units (0 to 32768).
	Energy float64
}

// Metric selects how frame energy is measured.
type Metric int

const (
	// MetricMeanAbs averages absolute sample values.
	MetricMeanAbs Metric = iota

	// MetricRMS takes the root mean square of the samples.
	MetricRMS
)

// String returns the configuration name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricMeanAbs:
		return "mean_abs"
	case MetricRMS:
		return "rms"
	default:
		return "unknown"
	}
}

// ParseMetric maps a configuration name to a Metric. The empty string selects
// [MetricMeanAbs].
func ParseMetric(s string) (Metric, bool) {
	switch s {
	case "", "mean_abs":
		return MetricMeanAbs, true
	case "rms":
		return MetricRMS, true
	default:
		return 0, false
	}
}
