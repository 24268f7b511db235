package syncqueue

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/graymoon-build/graymoon/internal/metrics"
)

var (
	syncAcceptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graymoon",
			Subsystem: "sync_queue",
			Name:      "accepted_total",
			Help:      "Total number of sync requests accepted into the queue.",
		},
		[]string{"trigger"},
	)

	syncDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "graymoon",
			Subsystem: "sync_queue",
			Name:      "dropped_duplicates_total",
			Help:      "Total number of sync requests dropped as duplicates.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		syncAcceptedTotal,
		syncDroppedTotal,
	)
}

// RegisterDepthGauge exposes q's queue depth as a gauge. Called once at
// wiring time.
func RegisterDepthGauge(q *Queue) {
	metrics.Registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "graymoon",
			Subsystem: "sync_queue",
			Name:      "depth",
			Help:      "Number of sync requests waiting for a worker.",
		},
		func() float64 { return float64(q.Depth()) },
	))
}
