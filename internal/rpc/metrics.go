package rpc

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/graymoon-build/graymoon/internal/metrics"
)

var (
	agentCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "graymoon",
			Subsystem: "rpc",
			Name:      "agent_commands_total",
			Help:      "Total number of commands sent to the agent.",
		},
		[]string{"command"},
	)

	agentCommandSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "graymoon",
			Subsystem: "rpc",
			Name:      "agent_command_seconds",
			Help:      "Duration of agent command exchanges, send to response.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"command"},
	)

	agentResponsesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "graymoon",
			Subsystem: "rpc",
			Name:      "agent_responses_total",
			Help:      "Total number of response frames received from the agent.",
		},
	)

	agentSyncFramesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "graymoon",
			Subsystem: "rpc",
			Name:      "agent_sync_frames_total",
			Help:      "Total number of sync frames pushed by the agent.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		agentCommandsTotal,
		agentCommandSeconds,
		agentResponsesTotal,
		agentSyncFramesTotal,
	)
}
