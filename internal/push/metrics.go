package push

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/graymoon-build/graymoon/internal/metrics"
)

var pushesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "graymoon",
		Subsystem: "push",
		Name:      "runs_total",
		Help:      "Total number of push scheduler runs by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	metrics.Registry.MustRegister(pushesTotal)
}
