// Package engine implements the quiz engine (C5): the per-room state
// machine, answer arbitration, and the serial lock that makes both safe
// under concurrent submissions. The shape is the teacher's Room actor
// (mutex-guarded shared state, handleX methods per inbound message); the
// lifecycle spine is enterAskingLocked/onQuestionDeadline/onNextTimer/
// finishQuiz driven by single-shot timers, with removeParticipantLocked
// handling host transfer, and the quiz-specific bodies are rewritten around
// the core's own state machine and arbitration rule.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-session-core/internal/config"
	"quiz-session-core/internal/membership"
	"quiz-session-core/internal/metrics"
	"quiz-session-core/internal/protocol"
	"quiz-session-core/internal/registry"
	"quiz-session-core/internal/scoring"
)

// Phase is a state of the per-room machine:
// Lobby -> Starting -> Asking(i) -> Reveal(i) -> ... -> Finished -> Dead.
type Phase int

const (
	PhaseLobby Phase = iota
	PhaseStarting
	PhaseAsking
	PhaseReveal
	PhaseFinished
	PhaseDead
)

// broadcaster is the slice of *registry.Registry the engine needs. Defining
// it here (rather than importing registry.Dispatcher, which runs the other
// way) lets room/manager tests fake the fan-out without a live websocket.
type broadcaster interface {
	Broadcast(roomID string, msg *protocol.Message)
	Send(conn *registry.Connection, msg *protocol.Message) error
	JoinRoom(conn *registry.Connection, roomID string)
	LeaveRoom(conn *registry.Connection)
}

type rosterEntry struct {
	userID   string
	userName string
}

// Room is one quiz's serial executor: every handleX method takes mu for the
// in-memory state transition, then (if a relational-store call is needed)
// releases it before the call per spec.md §5's suspension-point rule, and
// takes it again only to commit the resulting broadcast.
type Room struct {
	id     string
	cfg    config.QuizConfig
	logger *zap.Logger

	members *membership.Store
	scoreUp *scoring.Updater
	bank    *QuestionBank
	bcast   broadcaster

	mu         sync.Mutex
	phase      Phase
	hostUserID string
	roster     []rosterEntry

	questions     []Question
	questionIndex int
	expiresAt     time.Time
	answered      map[string]struct{}
	firstCorrect  *string
	timer         *time.Timer
	deadAt        time.Time
}

func newRoom(id, hostUserID string, members *membership.Store, scoreUp *scoring.Updater, bank *QuestionBank, bcast broadcaster, cfg config.QuizConfig, logger *zap.Logger) *Room {
	return &Room{
		id:         id,
		hostUserID: hostUserID,
		members:    members,
		scoreUp:    scoreUp,
		bank:       bank,
		bcast:      bcast,
		cfg:        cfg,
		logger:     logger.With(zap.String("room_id", id)),
		phase:      PhaseLobby,
		answered:   make(map[string]struct{}),
	}
}

// snapshot reports phase and, if Dead, the time it died; used by the
// supervisor's sweep, never to drive a state transition.
func (r *Room) snapshot() (Phase, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase, r.deadAt
}

func (r *Room) hasParticipantLocked(userID string) bool {
	for _, e := range r.roster {
		if e.userID == userID {
			return true
		}
	}
	return false
}

// addRosterLocked returns false if userID was already present (re-join,
// or a second connection from the same user): the caller must not
// broadcast a second participantJoined for it.
func (r *Room) addRosterLocked(userID, userName string) bool {
	if r.hasParticipantLocked(userID) {
		return false
	}
	r.roster = append(r.roster, rosterEntry{userID: userID, userName: userName})
	return true
}

func (r *Room) cancelTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Room) transitionDeadLocked() {
	r.cancelTimerLocked()
	r.phase = PhaseDead
	r.deadAt = time.Now()
}

// removeParticipantLocked drops userID from the room's live roster (not the
// durable Participant row — the caller decides whether that also goes away)
// and runs the two supplemented behaviors scenario 5 and the Lobby
// host-transfer case require: the room goes Dead once nobody is left, and a
// host who disconnects before startQuiz hands off to the next-earliest
// member instead of stranding the lobby.
func (r *Room) removeParticipantLocked(userID string) {
	idx := -1
	for i, e := range r.roster {
		if e.userID == userID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}
	wasHost := r.hostUserID == userID
	r.roster = append(r.roster[:idx], r.roster[idx+1:]...)

	leftMsg, _ := protocol.NewMessage(protocol.TypeParticipantLeft, protocol.ParticipantLeftPayload{UserID: userID})
	r.bcast.Broadcast(r.id, leftMsg)

	if len(r.roster) == 0 {
		r.transitionDeadLocked()
		return
	}

	if wasHost && r.phase == PhaseLobby {
		r.hostUserID = r.roster[0].userID
		hostMsg, _ := protocol.NewMessage(protocol.TypeHostChanged, protocol.HostChangedPayload{UserID: r.hostUserID})
		r.bcast.Broadcast(r.id, hostMsg)
	}
}

// handleJoin attaches a connection to the room: the durable Join (and the
// List read used to build the snapshot) are relational-store calls and run
// outside mu; only the roster/registry/broadcast side effects are locked.
func (r *Room) handleJoin(ctx context.Context, conn *registry.Connection, payload protocol.JoinPayload) {
	uid := conn.UserID()

	res, err := r.members.Join(ctx, uid, r.id)
	if err != nil {
		r.bcast.Send(conn, protocol.NewErrorMessage(mapJoinError(err), err.Error()))
		return
	}

	participants, err := r.members.List(ctx, r.id)
	if err != nil {
		r.logger.Error("list participants after join", zap.Error(err))
	}
	protoParticipants := make([]protocol.Participant, 0, len(participants))
	for _, p := range participants {
		protoParticipants = append(protoParticipants, protocol.Participant{UserID: p.UserID, UserName: p.UserName, Score: p.Score})
	}

	r.mu.Lock()
	isNew := r.addRosterLocked(uid, res.UserName)
	r.bcast.JoinRoom(conn, r.id)

	joinedMsg, _ := protocol.NewMessage(protocol.TypeJoinedRoom, protocol.JoinedRoomPayload{RoomID: r.id, Participants: protoParticipants})
	r.bcast.Send(conn, joinedMsg)

	if isNew {
		announce, _ := protocol.NewMessage(protocol.TypeParticipantJoined, protocol.ParticipantJoinedPayload{UserID: uid, UserName: res.UserName})
		r.bcast.Broadcast(r.id, announce)
	}
	r.mu.Unlock()
}

func mapJoinError(err error) int {
	switch {
	case errors.Is(err, membership.ErrNotFound), errors.Is(err, membership.ErrInactive):
		return protocol.ErrCodeRoomNotFound
	case errors.Is(err, membership.ErrFull):
		return protocol.ErrCodeRoomFull
	case errors.Is(err, membership.ErrAlreadyInOtherRoom):
		return protocol.ErrCodeAlreadyInRoom
	default:
		return protocol.ErrCodeInternal
	}
}

// handleStartQuiz enforces host-only, Lobby-only per spec.md §4.5, then
// pulls a question sample (a relational-store call, done unlocked) before
// arming the Starting -> Asking(0) timer.
func (r *Room) handleStartQuiz(ctx context.Context, conn *registry.Connection, payload protocol.StartQuizPayload) {
	uid := conn.UserID()

	r.mu.Lock()
	if uid != r.hostUserID {
		r.mu.Unlock()
		r.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeNotHost, "only the host can start the quiz"))
		return
	}
	if r.phase != PhaseLobby {
		r.mu.Unlock()
		r.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeQuizAlreadyRunning, "quiz already running"))
		return
	}
	r.phase = PhaseStarting
	r.mu.Unlock()

	questions, err := r.bank.SelectQuizQuestions(ctx, r.cfg.QuestionsPerQuiz)
	if err != nil {
		r.mu.Lock()
		r.phase = PhaseLobby
		r.mu.Unlock()
		r.logger.Error("select quiz questions", zap.Error(err))
		r.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeInternal, "could not select quiz questions"))
		return
	}

	r.mu.Lock()
	r.questions = questions
	startsAt := time.Now().UTC().Add(r.cfg.QuizStartDelay)
	msg, _ := protocol.NewMessage(protocol.TypeQuizStarting, protocol.QuizStartingPayload{StartsAt: startsAt})
	r.bcast.Broadcast(r.id, msg)
	r.timer = time.AfterFunc(r.cfg.QuizStartDelay, func() { r.onStartTimer(ctx) })
	r.mu.Unlock()
}

func (r *Room) onStartTimer(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseStarting {
		return
	}
	r.timer = nil
	r.enterAskingLocked(ctx, 0)
}

// enterAskingLocked opens round idx: clears the per-round answer bookkeeping,
// broadcasts nextQuestion, and arms the single-shot deadline timer.
func (r *Room) enterAskingLocked(ctx context.Context, idx int) {
	q := r.questions[idx]
	now := time.Now().UTC()
	r.phase = PhaseAsking
	r.questionIndex = idx
	r.expiresAt = now.Add(r.cfg.QuestionTimeLimit)
	r.answered = make(map[string]struct{})
	r.firstCorrect = nil

	msg, _ := protocol.NewMessage(protocol.TypeNextQuestion, protocol.NextQuestionPayload{
		QuestionIndex: idx,
		Question: protocol.QuestionView{
			ID:         q.ID,
			Text:       q.Text,
			Options:    q.Options,
			CorrectIdx: q.CorrectIdx,
		},
		StartedAt: now,
		ExpiresAt: r.expiresAt,
	})
	r.bcast.Broadcast(r.id, msg)
	r.timer = time.AfterFunc(r.cfg.QuestionTimeLimit, func() { r.onQuestionDeadline(ctx, idx) })
}

// onQuestionDeadline fires if nobody claimed the question in time; a
// concurrent claim that commits just before this runs leaves phase/idx
// stale and this becomes a no-op, per spec.md §5's tolerance for a timer
// that wasn't cancelled in time.
func (r *Room) onQuestionDeadline(ctx context.Context, idx int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseAsking || r.questionIndex != idx {
		return
	}
	correctIdx := r.questions[idx].CorrectIdx
	r.phase = PhaseReveal
	r.timer = nil

	msg, _ := protocol.NewMessage(protocol.TypeEndQuestion, protocol.EndQuestionPayload{
		QuestionIndex: idx,
		CorrectIdx:    correctIdx,
		WinnerUserID:  nil,
	})
	r.bcast.Broadcast(r.id, msg)
	r.armNextTimerLocked(ctx, idx)
}

func (r *Room) armNextTimerLocked(ctx context.Context, idx int) {
	r.timer = time.AfterFunc(r.cfg.NextQuestionDelay, func() { r.onNextTimer(ctx, idx) })
}

func (r *Room) onNextTimer(ctx context.Context, idx int) {
	r.mu.Lock()
	if r.phase != PhaseReveal || r.questionIndex != idx {
		r.mu.Unlock()
		return
	}
	r.timer = nil
	if idx+1 >= len(r.questions) {
		r.phase = PhaseFinished
		r.mu.Unlock()
		r.finishQuiz(ctx)
		return
	}
	r.enterAskingLocked(ctx, idx+1)
	r.mu.Unlock()
}

// handleSubmitAnswer is spec.md §4.5's six-step algorithm: reject
// non-participant/index-mismatch/expired, drop silently if the round for
// this index already closed, dedupe within the round, no-op on a wrong
// choice, then check-and-set firstCorrect under mu so exactly one submission
// wins the race (I1). The winning persist (RecordClaim) is a relational-store
// call and runs unlocked.
func (r *Room) handleSubmitAnswer(ctx context.Context, conn *registry.Connection, payload protocol.SubmitAnswerPayload) {
	uid := conn.UserID()

	r.mu.Lock()
	if !r.hasParticipantLocked(uid) {
		r.mu.Unlock()
		r.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeNotParticipant, "not a participant of this room"))
		return
	}
	if payload.QuestionIndex != r.questionIndex {
		r.mu.Unlock()
		r.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeQuestionNotActive, "question is not active"))
		return
	}
	if r.phase != PhaseAsking {
		// Same index, but the round already moved to Reveal: someone else's
		// submission already won. Not a protocol violation, just too slow.
		r.mu.Unlock()
		return
	}
	if !time.Now().Before(r.expiresAt) {
		r.mu.Unlock()
		r.bcast.Send(conn, protocol.NewErrorMessage(protocol.ErrCodeQuestionExpired, "answer deadline passed"))
		return
	}
	if _, already := r.answered[uid]; already {
		r.mu.Unlock()
		return
	}
	r.answered[uid] = struct{}{}

	if payload.ChoiceIdx != r.questions[r.questionIndex].CorrectIdx {
		r.mu.Unlock()
		return
	}
	if r.firstCorrect != nil {
		r.mu.Unlock()
		return
	}
	r.firstCorrect = &uid
	r.cancelTimerLocked()
	r.phase = PhaseReveal
	idx := r.questionIndex
	correctIdx := r.questions[idx].CorrectIdx
	r.mu.Unlock()

	err := r.scoreUp.RecordClaim(ctx, r.id, idx, uid)
	if errors.Is(err, scoring.ErrDuplicateClaim) {
		r.logger.Warn("duplicate claim rejected by store", zap.Int("question_index", idx), zap.String("user_id", uid))
	} else if err != nil {
		metrics.ClaimsProcessed.WithLabelValues("failed").Inc()
		r.logger.Error("record claim failed, marking room dead", zap.Error(err))
		r.mu.Lock()
		r.transitionDeadLocked()
		r.mu.Unlock()
		r.finishQuiz(ctx)
		return
	}
	metrics.ClaimsProcessed.WithLabelValues("won").Inc()

	winner := uid
	msg, _ := protocol.NewMessage(protocol.TypeEndQuestion, protocol.EndQuestionPayload{
		QuestionIndex: idx,
		CorrectIdx:    correctIdx,
		WinnerUserID:  &winner,
	})

	r.mu.Lock()
	r.bcast.Broadcast(r.id, msg)
	r.armNextTimerLocked(ctx, idx)
	r.mu.Unlock()
}

// handleLeaveRoom is the explicit exit: it wipes the durable Participant row
// (and with it the score), unlike a passive disconnect.
func (r *Room) handleLeaveRoom(ctx context.Context, conn *registry.Connection, payload protocol.LeaveRoomPayload) {
	uid := conn.UserID()
	if err := r.members.Leave(ctx, uid, r.id); err != nil {
		r.logger.Error("leave room", zap.Error(err), zap.String("user_id", uid))
	}
	r.bcast.LeaveRoom(conn)

	r.mu.Lock()
	r.removeParticipantLocked(uid)
	r.mu.Unlock()
}

// handleDisconnect is a passive connection drop: scenario 5 requires the
// user's score to still count at quizFinished, so unlike handleLeaveRoom
// this never touches the Participant row, only the room's live roster.
func (r *Room) handleDisconnect(_ context.Context, conn *registry.Connection) {
	r.mu.Lock()
	r.removeParticipantLocked(conn.UserID())
	r.mu.Unlock()
}

// finishQuiz asks C6 for final standings (a relational-store call, run
// unlocked) and fans out quizFinished before the room goes Dead. It is also
// the failure path for a winning claim that couldn't be persisted: there it
// is a best-effort quizFinished with whatever scores were saved. If the
// standings themselves fail, the room goes Dead with no quizFinished.
func (r *Room) finishQuiz(ctx context.Context) {
	standings, err := r.scoreUp.FinalStandings(ctx, r.id)
	if err != nil {
		r.logger.Error("final standings", zap.Error(err))
		r.mu.Lock()
		r.transitionDeadLocked()
		r.mu.Unlock()
		return
	}

	protoStandings := make([]protocol.Standing, len(standings))
	for i, s := range standings {
		protoStandings[i] = protocol.Standing{UserID: s.UserID, UserName: s.UserName, Score: s.Score, NewRating: s.NewRating}
	}
	msg, _ := protocol.NewMessage(protocol.TypeQuizFinished, protocol.QuizFinishedPayload{Standings: protoStandings})

	r.mu.Lock()
	r.bcast.Broadcast(r.id, msg)
	r.transitionDeadLocked()
	r.mu.Unlock()
}
