// Package supervisor implements the supervisor/lifecycle collaborator (C7):
// periodic sweeping of rooms the engine has finished with, prometheus gauge
// refresh, and the connection-closing half of graceful shutdown.
package supervisor

import (
	"context"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"quiz-session-core/internal/config"
	"quiz-session-core/internal/engine"
	"quiz-session-core/internal/metrics"
	"quiz-session-core/internal/registry"
	"quiz-session-core/internal/scoring"
)

// Supervisor owns the process-wide background loop and shutdown sequencing.
// It never touches a single room's state directly — that stays behind
// engine.Manager's own lock discipline — it only asks the manager to sweep
// and reads snapshots for metrics.
type Supervisor struct {
	manager *engine.Manager
	reg     *registry.Registry
	scoreUp *scoring.Updater
	cfg     config.QuizConfig
	logger  *zap.Logger
}

// New wires a supervisor over the already-constructed collaborators.
func New(manager *engine.Manager, reg *registry.Registry, scoreUp *scoring.Updater, cfg config.QuizConfig, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		manager: manager,
		reg:     reg,
		scoreUp: scoreUp,
		cfg:     cfg,
		logger:  logger,
	}
}

// Run blocks, sweeping every SweepInterval until ctx is cancelled. Callers
// run it in its own goroutine.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.refreshGauges()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep evicts rooms the engine marked Dead more than DeadRoomRetention ago
// and refreshes the gauges read by /metrics. Rate-limit entry expiry is not
// duplicated here: the registry's RateLimiter is backed by
// github.com/ulule/limiter/v3, whose redis store keys carry their own TTL
// and whose in-memory fallback runs its own background janitor, so there is
// no separate table for this loop to sweep.
func (s *Supervisor) sweep() {
	swept := s.manager.SweepDeadRooms(s.cfg.DeadRoomRetention)
	if len(swept) > 0 {
		metrics.RoomsSwept.Add(float64(len(swept)))
		s.logger.Info("swept dead rooms", zap.Int("count", len(swept)), zap.Strings("room_ids", swept))
	}
	s.refreshGauges()
}

func (s *Supervisor) refreshGauges() {
	metrics.ActiveRooms.Set(float64(s.manager.ActiveRoomCount()))
	metrics.ActiveConnections.Set(float64(s.reg.ConnectionCount()))
	metrics.CircuitBreakerState.WithLabelValues("scoring-postgres").Set(float64(s.scoreUp.State()))
}

// Shutdown is the second half of graceful shutdown (the first half, refusing
// new handshakes, is the caller stopping http.Server.Listen/Accept before
// calling this). It closes every live connection with GoingAway — which
// unblocks each connection's readLoop, triggering the gateway's own
// HandleDisconnect path and cancelling that room's timers the same way an
// ordinary disconnect would — then waits out ShutdownGrace for those
// in-flight teardowns to finish.
func (s *Supervisor) Shutdown(ctx context.Context) {
	conns := s.reg.AllConnections()
	s.logger.Info("closing live connections for shutdown", zap.Int("count", len(conns)))
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}

	grace, cancel := context.WithTimeout(ctx, s.cfg.ShutdownGrace)
	defer cancel()
	<-grace.Done()
}
