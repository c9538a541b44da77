package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricLiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "percepsim_live_sessions",
		Help: "Number of sessions currently tracked by the registry.",
	})

	metricEventsAdmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "percepsim_events_admitted_total",
		Help: "Inbound events admitted past the throttle gate.",
	})

	metricEventsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "percepsim_events_throttled_total",
		Help: "Inbound events dropped by the throttle gate.",
	})

	metricBroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "percepsim_broadcasts_sent_total",
		Help: "Outbound messages enqueued to recipients.",
	})

	metricBroadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "percepsim_broadcasts_dropped_total",
		Help: "Outbound messages dropped because a recipient's queue was full.",
	})

	metricGhostEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "percepsim_ghost_evictions_total",
		Help: "Sessions evicted by the reconciliation sweep.",
	})
)
