package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-session-core/internal/config"
	"quiz-session-core/internal/membership"
	"quiz-session-core/internal/protocol"
	"quiz-session-core/internal/registry"
	"quiz-session-core/internal/scoring"
)

// Manager looks up or lazily creates a room's serial executor and routes
// every inbound message into it. It implements registry.Dispatcher: the
// registry never imports this package, so the dependency only runs this
// way, and the gateway is wired against the Dispatcher interface.
type Manager struct {
	mu    sync.Mutex
	rooms map[string]*Room

	members *membership.Store
	scoreUp *scoring.Updater
	bank    *QuestionBank
	bcast   broadcaster
	cfg     config.QuizConfig
	logger  *zap.Logger
}

var _ registry.Dispatcher = (*Manager)(nil)

// NewManager wires the collaborators a room needs once it's created.
func NewManager(members *membership.Store, scoreUp *scoring.Updater, bank *QuestionBank, bcast broadcaster, cfg config.QuizConfig, logger *zap.Logger) *Manager {
	return &Manager{
		rooms:   make(map[string]*Room),
		members: members,
		scoreUp: scoreUp,
		bank:    bank,
		bcast:   bcast,
		cfg:     cfg,
		logger:  logger,
	}
}

func (m *Manager) existingRoom(roomID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	return r, ok
}

// roomFor returns a room's actor, creating it from the durable Room row the
// first time a connection joins roomID. Only HandleJoin calls it; the other
// handlers reply RoomNotFound for a room with no actor yet.
func (m *Manager) roomFor(ctx context.Context, roomID string) (*Room, error) {
	if r, ok := m.existingRoom(roomID); ok {
		return r, nil
	}

	info, err := m.members.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[roomID]; ok {
		return r, nil
	}
	r := newRoom(roomID, info.HostUserID, m.members, m.scoreUp, m.bank, m.bcast, m.cfg, m.logger)
	m.rooms[roomID] = r
	return r, nil
}

func (m *Manager) HandleJoin(ctx context.Context, conn *registry.Connection, payload protocol.JoinPayload) {
	r, err := m.roomFor(ctx, payload.RoomID)
	if err != nil {
		m.bcast.Send(conn, protocol.NewErrorMessage(mapJoinError(err), err.Error()))
		return
	}
	r.handleJoin(ctx, conn, payload)
}

func (m *Manager) HandleStartQuiz(ctx context.Context, conn *registry.Connection, payload protocol.StartQuizPayload) {
	r, ok := m.existingRoom(payload.RoomID)
	if !ok {
		m.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeRoomNotFound, "room not found"))
		return
	}
	r.handleStartQuiz(ctx, conn, payload)
}

func (m *Manager) HandleSubmitAnswer(ctx context.Context, conn *registry.Connection, payload protocol.SubmitAnswerPayload) {
	r, ok := m.existingRoom(payload.RoomID)
	if !ok {
		m.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeRoomNotFound, "room not found"))
		return
	}
	r.handleSubmitAnswer(ctx, conn, payload)
}

func (m *Manager) HandleLeaveRoom(ctx context.Context, conn *registry.Connection, payload protocol.LeaveRoomPayload) {
	r, ok := m.existingRoom(payload.RoomID)
	if !ok {
		m.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeRoomNotFound, "room not found"))
		return
	}
	r.handleLeaveRoom(ctx, conn, payload)
}

func (m *Manager) HandleDisconnect(ctx context.Context, conn *registry.Connection, roomID string) {
	if roomID == "" {
		return
	}
	r, ok := m.existingRoom(roomID)
	if !ok {
		return
	}
	r.handleDisconnect(ctx, conn)
}

// SweepDeadRooms evicts rooms that have been Dead for longer than
// retention, so supervisor's periodic sweep bounds the manager's memory.
// Returns the evicted room ids for logging/metrics.
func (m *Manager) SweepDeadRooms(retention time.Duration) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var swept []string
	for id, r := range m.rooms {
		phase, deadAt := r.snapshot()
		if phase == PhaseDead && !deadAt.IsZero() && now.Sub(deadAt) > retention {
			delete(m.rooms, id)
			swept = append(swept, id)
		}
	}
	return swept
}

// ActiveRoomCount reports how many rooms the manager currently tracks
// (Lobby through Dead-but-not-yet-swept), for the supervisor's metrics.
func (m *Manager) ActiveRoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

