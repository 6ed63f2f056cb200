package kernel

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts kernel work. A nil *Metrics records nothing.
type Metrics struct {
	blocks       *prometheus.CounterVec
	pixels       *prometheus.CounterVec
	blockLatency *prometheus.HistogramVec
}

// NewMetrics creates the kernel collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segstats",
			Subsystem: "kernel",
			Name:      "blocks_total",
			Help:      "Row blocks swept, by kernel mode.",
		}, []string{"mode"}),
		pixels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segstats",
			Subsystem: "kernel",
			Name:      "pixels_total",
			Help:      "Pixels handed to calculators, by kernel mode.",
		}, []string{"mode"}),
		blockLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "segstats",
			Subsystem: "kernel",
			Name:      "block_seconds",
			Help:      "Time to read and process one row block.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}
	reg.MustRegister(m.blocks, m.pixels, m.blockLatency)
	return m
}

func (m *Metrics) observe(mode Mode, pixels int, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := mode.String()
	m.blocks.WithLabelValues(label).Inc()
	m.pixels.WithLabelValues(label).Add(float64(pixels))
	m.blockLatency.WithLabelValues(label).Observe(elapsed.Seconds())
}
