package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Timer is a small convenience wrapper around timing an operation and
// observing its duration into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time into one series of a
// histogram vector, selected by labelValues.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labelValues ...string) {
	vec.WithLabelValues(labelValues...).Observe(t.Duration().Seconds())
}
