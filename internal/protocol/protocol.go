// Package protocol implements the wire codec for the quiz gateway: framing,
// shape/bounds validation, and the typed payloads exchanged over the
// websocket transport.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxFrameBytes is the decoded size cap for a single inbound frame.
const MaxFrameBytes = 1024

// Inbound message types.
const (
	TypeJoin         = "join"
	TypeStartQuiz    = "startQuiz"
	TypeSubmitAnswer = "submitAnswer"
	TypeLeaveRoom    = "leaveRoom"
)

// Outbound message types.
const (
	TypeConnected         = "connected"
	TypeJoinedRoom        = "joinedRoom"
	TypeParticipantJoined = "participantJoined"
	TypeParticipantLeft   = "participantLeft"
	TypeQuizStarting      = "quizStarting"
	TypeNextQuestion      = "nextQuestion"
	TypeEndQuestion       = "endQuestion"
	TypeQuizFinished      = "quizFinished"
	TypeHostChanged       = "hostChanged"
	TypeError             = "error"
)

// Error codes surfaced in error.payload.code. Numeric categories per the
// core's error handling design; string names are for logging only.
const (
	ErrCodeBadFrame            = 400
	ErrCodeUnauthenticated     = 401
	ErrCodeNotParticipant      = 403
	ErrCodeNotHost             = 403
	ErrCodeRoomNotFound        = 404
	ErrCodeQuizAlreadyRunning  = 409
	ErrCodeQuestionNotActive   = 409
	ErrCodeQuestionExpired     = 410
	ErrCodePayloadTooLarge     = 413
	ErrCodeConnectionLimit     = 429
	ErrCodeRateLimited         = 429
	ErrCodeInternal            = 500

	// ErrCodeRoomFull and ErrCodeAlreadyInRoom cover two C4 join failures
	// the numeric table doesn't name explicitly; both are state-mismatch
	// conditions, so they join QuizAlreadyRunning/QuestionNotActive under
	// the 409 category rather than inventing a new one.
	ErrCodeRoomFull       = 409
	ErrCodeAlreadyInRoom  = 409
)

// Message is the envelope for every frame exchanged over the transport:
// {"type": <string>, "payload": <object>}.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewMessage marshals payload and wraps it in an envelope of the given type.
func NewMessage(msgType string, payload interface{}) (*Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal payload for %q: %w", msgType, err)
	}
	return &Message{Type: msgType, Payload: raw}, nil
}

// UnmarshalData decodes the message's payload into v.
func (m *Message) UnmarshalData(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("protocol: empty payload")
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("protocol: unmarshal payload: %w", err)
	}
	return nil
}

// Decode parses a raw frame, enforcing the size cap and the minimal envelope
// shape. A failure is returned as a *FrameError carrying the error code.
func Decode(raw []byte) (*Message, error) {
	if len(raw) > MaxFrameBytes {
		return nil, &FrameError{Code: ErrCodePayloadTooLarge, Message: "frame exceeds 1024 bytes"}
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &FrameError{Code: ErrCodeBadFrame, Message: "malformed JSON"}
	}
	if msg.Type == "" {
		return nil, &FrameError{Code: ErrCodeBadFrame, Message: "missing type"}
	}
	return &msg, nil
}

// FrameError is a protocol-level decode/validation failure, reported to the
// client as an error frame without closing the connection.
type FrameError struct {
	Code    int
	Message string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("protocol: %s", e.Message)
}

// NewErrorMessage builds an outbound error frame.
func NewErrorMessage(code int, message string) *Message {
	msg, _ := NewMessage(TypeError, ErrorPayload{Code: code, Message: message})
	return msg
}

// --- inbound payloads ---

// JoinPayload is the payload of a join frame.
type JoinPayload struct {
	RoomID string `json:"roomId"`
}

// Validate checks the bounds §4.1 requires of a join frame.
func (p JoinPayload) Validate() error {
	if p.RoomID == "" || len(p.RoomID) > 50 {
		return &FrameError{Code: ErrCodeBadFrame, Message: "roomId must be 1-50 chars"}
	}
	return nil
}

// StartQuizPayload is the payload of a startQuiz frame.
type StartQuizPayload struct {
	RoomID string `json:"roomId"`
}

func (p StartQuizPayload) Validate() error {
	if p.RoomID == "" {
		return &FrameError{Code: ErrCodeBadFrame, Message: "roomId is required"}
	}
	return nil
}

// SubmitAnswerPayload is the payload of a submitAnswer frame.
type SubmitAnswerPayload struct {
	RoomID        string `json:"roomId"`
	QuestionIndex int    `json:"questionIndex"`
	ChoiceIdx     int    `json:"choiceIdx"`
}

func (p SubmitAnswerPayload) Validate() error {
	if p.RoomID == "" {
		return &FrameError{Code: ErrCodeBadFrame, Message: "roomId is required"}
	}
	if p.QuestionIndex < 0 || p.QuestionIndex > 9 {
		return &FrameError{Code: ErrCodeBadFrame, Message: "questionIndex out of range"}
	}
	if p.ChoiceIdx < 0 || p.ChoiceIdx > 3 {
		return &FrameError{Code: ErrCodeBadFrame, Message: "choiceIdx out of range"}
	}
	return nil
}

// LeaveRoomPayload is the payload of a leaveRoom frame.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

func (p LeaveRoomPayload) Validate() error {
	if p.RoomID == "" {
		return &FrameError{Code: ErrCodeBadFrame, Message: "roomId is required"}
	}
	return nil
}

// --- outbound payloads ---

// ConnectedPayload confirms a successful handshake.
type ConnectedPayload struct {
	UserID string `json:"userId"`
}

// JoinedRoomPayload is sent to the joining client on success.
type JoinedRoomPayload struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

// Participant is the projection of a room member sent to clients.
type Participant struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Score    int    `json:"score"`
}

// ParticipantJoinedPayload is broadcast to a room's existing members.
type ParticipantJoinedPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ParticipantLeftPayload is broadcast when a member leaves or disconnects.
type ParticipantLeftPayload struct {
	UserID string `json:"userId"`
}

// QuizStartingPayload announces the Starting phase.
type QuizStartingPayload struct {
	StartsAt time.Time `json:"startsAt"`
}

// QuestionView is the client-facing projection of a question; correctIdx is
// included per spec.md's nextQuestion shape (the server is the sole arbiter
// of correctness regardless of what the client does with it).
type QuestionView struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Options    [4]string `json:"options"`
	CorrectIdx int      `json:"correctIdx"`
}

// NextQuestionPayload opens a round.
type NextQuestionPayload struct {
	QuestionIndex int          `json:"questionIndex"`
	Question      QuestionView `json:"question"`
	StartedAt     time.Time    `json:"startedAt"`
	ExpiresAt     time.Time    `json:"expiresAt"`
}

// EndQuestionPayload closes a round. WinnerUserID is nil on timeout.
type EndQuestionPayload struct {
	QuestionIndex int     `json:"questionIndex"`
	CorrectIdx    int     `json:"correctIdx"`
	WinnerUserID  *string `json:"winnerUserId"`
}

// Standing is one row of the final leaderboard.
type Standing struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Score     int    `json:"score"`
	NewRating int    `json:"newRating"`
}

// QuizFinishedPayload carries final standings.
type QuizFinishedPayload struct {
	Standings []Standing `json:"standings"`
}

// ErrorPayload is the shape of error.payload.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// HostChangedPayload announces a host transfer during Lobby (supplemented
// feature; there is no further host-only action once a quiz has started).
type HostChangedPayload struct {
	UserID string `json:"userId"`
}

// FormatTime renders a timestamp the way nextQuestion/quizStarting do: ISO-8601 UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
