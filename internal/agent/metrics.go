package agent

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus metrics for the agent. It uses a standalone
// registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth     prometheus.GaugeFunc
	JobsTotal      *prometheus.CounterVec
	HubConnected   prometheus.GaugeFunc
	CommandSeconds *prometheus.HistogramVec
}

// NewMetrics creates and registers all agent metrics.
func NewMetrics(queue *Queue, link *Link) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,

		QueueDepth: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "graymoon",
				Subsystem: "agent",
				Name:      "job_queue_depth",
				Help:      "Number of envelopes waiting in the job queue.",
			},
			func() float64 { return float64(queue.Depth()) },
		),
		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "graymoon",
				Subsystem: "agent",
				Name:      "jobs_total",
				Help:      "Total jobs processed by kind and result.",
			},
			[]string{"kind", "result"},
		),
		HubConnected: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: "graymoon",
				Subsystem: "agent",
				Name:      "hub_connected",
				Help:      "Whether the RPC link to the control service is up (1=connected).",
			},
			func() float64 {
				if link.IsConnected() {
					return 1
				}
				return 0
			},
		),
		CommandSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "graymoon",
				Subsystem: "agent",
				Name:      "command_duration_seconds",
				Help:      "Duration of command handler invocations in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"command"},
		),
	}

	reg.MustRegister(
		m.QueueDepth,
		m.JobsTotal,
		m.HubConnected,
		m.CommandSeconds,
	)
	return m
}

// Handler returns an http.Handler serving the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
