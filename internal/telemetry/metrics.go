// Package telemetry exposes the process metrics scraped at /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meetmedia",
		Name:      "active_rooms",
		Help:      "Rooms with a live routing context.",
	})

	ActiveParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meetmedia",
		Name:      "active_participants",
		Help:      "Participants currently joined across all rooms.",
	})

	SignalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetmedia",
		Name:      "signal_requests_total",
		Help:      "Signaling requests handled, by message type.",
	}, []string{"type"})

	SignalErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "meetmedia",
		Name:      "signal_errors_total",
		Help:      "Signaling requests answered with an error reply, by message type.",
	}, []string{"type"})
)
