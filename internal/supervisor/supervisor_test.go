package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quiz-session-core/internal/config"
	"quiz-session-core/internal/engine"
	"quiz-session-core/internal/membership"
	"quiz-session-core/internal/registry"
	"quiz-session-core/internal/scoring"
)

func newTestSupervisor(t *testing.T, cfg config.QuizConfig) *Supervisor {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := membership.NewStore(db, zap.NewNop())
	scoreUp := scoring.NewUpdater(store, zap.NewNop())
	bank := engine.NewQuestionBank(db)
	reg := registry.New(cfg.MaxConnectionsPerUser, zap.NewNop())
	manager := engine.NewManager(store, scoreUp, bank, reg, cfg, zap.NewNop())

	return New(manager, reg, scoreUp, cfg, zap.NewNop())
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	cfg := config.QuizConfig{SweepInterval: 5 * time.Millisecond, DeadRoomRetention: time.Minute, ShutdownGrace: 10 * time.Millisecond}
	s := newTestSupervisor(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestSweepWithNoRoomsLeavesManagerEmpty(t *testing.T) {
	cfg := config.QuizConfig{SweepInterval: time.Hour, DeadRoomRetention: 10 * time.Millisecond, ShutdownGrace: time.Second}
	s := newTestSupervisor(t, cfg)

	require.Equal(t, 0, s.manager.ActiveRoomCount())
	s.sweep()
	require.Equal(t, 0, s.manager.ActiveRoomCount())
}

func TestShutdownWaitsOutGraceWithNoLiveConnections(t *testing.T) {
	cfg := config.QuizConfig{SweepInterval: time.Hour, DeadRoomRetention: time.Hour, ShutdownGrace: 15 * time.Millisecond}
	s := newTestSupervisor(t, cfg)

	require.Equal(t, 0, s.reg.ConnectionCount())

	start := time.Now()
	s.Shutdown(context.Background())
	require.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}
