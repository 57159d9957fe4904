// Package metrics declares the process's prometheus collectors. Kept as a
// package of package-level vars (the same shape the pack's video-conferencing
// metrics package uses) rather than a struct threaded through every
// collaborator, since promauto registers against the default registry once
// at import time regardless.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Naming convention: quiz_session_<subsystem>_<name>.
var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quiz_session",
		Subsystem: "registry",
		Name:      "connections_active",
		Help:      "Current number of live websocket connections.",
	})

	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "quiz_session",
		Subsystem: "engine",
		Name:      "rooms_active",
		Help:      "Current number of rooms tracked by the engine (Lobby through Dead-but-unswept).",
	})

	ClaimsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "quiz_session",
		Subsystem: "scoring",
		Name:      "claims_processed_total",
		Help:      "Winning answer claims the engine tried to persist, by outcome (won or failed).",
	}, []string{"outcome"})

	RoomsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "quiz_session",
		Subsystem: "supervisor",
		Name:      "rooms_swept_total",
		Help:      "Dead rooms evicted from the engine's in-memory table by the periodic sweep.",
	})

	// CircuitBreakerState mirrors gobreaker.State: 0 closed, 1 half-open,
	// 2 open (matches gobreaker's own StateClosed/HalfOpen/Open ordinals).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "quiz_session",
		Subsystem: "scoring",
		Name:      "circuit_breaker_state",
		Help:      "State of the scoring updater's circuit breaker (0 closed, 1 half-open, 2 open).",
	}, []string{"breaker"})
)
