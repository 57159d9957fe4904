package registry

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"quiz-session-core/internal/auth"
	"quiz-session-core/internal/protocol"
)

// Dispatcher routes decoded inbound frames to the quiz engine (C5) and the
// membership store (C4). The registry never interprets frame payloads
// itself — it only frames, authenticates, and fans out.
type Dispatcher interface {
	HandleJoin(ctx context.Context, conn *Connection, payload protocol.JoinPayload)
	HandleStartQuiz(ctx context.Context, conn *Connection, payload protocol.StartQuizPayload)
	HandleSubmitAnswer(ctx context.Context, conn *Connection, payload protocol.SubmitAnswerPayload)
	HandleLeaveRoom(ctx context.Context, conn *Connection, payload protocol.LeaveRoomPayload)
	HandleDisconnect(ctx context.Context, conn *Connection, roomID string)
}

// Gateway is the websocket handshake entrypoint: C2 authentication, C3
// registration, and dispatch of decoded C1 frames to Dispatcher.
type Gateway struct {
	verifier      auth.SessionVerifier
	registry      *Registry
	rateLimiter   *RateLimiter
	dispatcher    Dispatcher
	maxFrameBytes int
	logger        *zap.Logger
}

// NewGateway wires the handshake handler.
func NewGateway(verifier auth.SessionVerifier, reg *Registry, rl *RateLimiter, dispatcher Dispatcher, maxFrameBytes int, logger *zap.Logger) *Gateway {
	return &Gateway{
		verifier:      verifier,
		registry:      reg,
		rateLimiter:   rl,
		dispatcher:    dispatcher,
		maxFrameBytes: maxFrameBytes,
		logger:        logger,
	}
}

// Registry exposes the underlying connection registry, e.g. for the health
// endpoint's connection count.
func (g *Gateway) Registry() *Registry { return g.registry }

// ServeHTTP upgrades the connection after authenticating the handshake.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := auth.Authenticate(r, g.verifier)
	if err != nil {
		reason := "invalid token"
		if err == auth.ErrMissingToken {
			reason = "missing token"
		}
		g.logger.Debug("handshake rejected", zap.Error(err))
		conn, acceptErr := websocket.Accept(w, r, nil)
		if acceptErr == nil {
			conn.Close(websocket.StatusPolicyViolation, reason)
		} else {
			http.Error(w, reason, http.StatusUnauthorized)
		}
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
		Subprotocols:   []string{"quiz-protocol"},
	})
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err), zap.String("user_id", userID))
		return
	}

	conn := &Connection{
		conn:      wsConn,
		userID:    userID,
		logger:    g.logger.With(zap.String("user_id", userID)),
		sendChan:  make(chan *protocol.Message, 64),
		closeChan: make(chan struct{}),
	}

	if err := g.registry.Attach(conn); err != nil {
		g.logger.Info("connection limit reached", zap.String("user_id", userID))
		wsConn.Close(websocket.StatusPolicyViolation, "connection limit")
		return
	}

	connected, _ := protocol.NewMessage(protocol.TypeConnected, protocol.ConnectedPayload{UserID: userID})
	conn.Send(connected)

	g.handle(context.Background(), conn)
}

func (g *Gateway) handle(ctx context.Context, conn *Connection) {
	go conn.writeLoop(ctx)

	conn.readLoop(ctx, g.maxFrameBytes, func(data []byte) {
		g.onFrame(ctx, conn, data)
	})

	roomID, _ := g.registry.Detach(conn)
	g.dispatcher.HandleDisconnect(ctx, conn, roomID)
	conn.Close(websocket.StatusNormalClosure, "")
}

func (g *Gateway) onFrame(ctx context.Context, conn *Connection, data []byte) {
	if err := g.rateLimiter.Allow(ctx, connKey(conn)); err != nil {
		conn.Send(protocol.NewErrorMessage(protocol.ErrCodeRateLimited, "too many frames"))
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		if fe, ok := err.(*protocol.FrameError); ok {
			conn.Send(protocol.NewErrorMessage(fe.Code, fe.Message))
		} else {
			conn.Send(protocol.NewErrorMessage(protocol.ErrCodeBadFrame, "malformed frame"))
		}
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		var p protocol.JoinPayload
		if err := g.decodeAndValidate(conn, msg, &p); err == nil {
			g.dispatcher.HandleJoin(ctx, conn, p)
		}
	case protocol.TypeStartQuiz:
		var p protocol.StartQuizPayload
		if err := g.decodeAndValidate(conn, msg, &p); err == nil {
			g.dispatcher.HandleStartQuiz(ctx, conn, p)
		}
	case protocol.TypeSubmitAnswer:
		var p protocol.SubmitAnswerPayload
		if err := g.decodeAndValidate(conn, msg, &p); err == nil {
			g.dispatcher.HandleSubmitAnswer(ctx, conn, p)
		}
	case protocol.TypeLeaveRoom:
		var p protocol.LeaveRoomPayload
		if err := g.decodeAndValidate(conn, msg, &p); err == nil {
			g.dispatcher.HandleLeaveRoom(ctx, conn, p)
		}
	default:
		conn.Send(protocol.NewErrorMessage(protocol.ErrCodeBadFrame, "unknown message type"))
	}
}

type validatable interface {
	Validate() error
}

func (g *Gateway) decodeAndValidate(conn *Connection, msg *protocol.Message, v validatable) error {
	if err := msg.UnmarshalData(v); err != nil {
		conn.Send(protocol.NewErrorMessage(protocol.ErrCodeBadFrame, "malformed payload"))
		return err
	}
	if err := v.Validate(); err != nil {
		fe := err.(*protocol.FrameError)
		conn.Send(protocol.NewErrorMessage(fe.Code, fe.Message))
		return err
	}
	return nil
}

func connKey(conn *Connection) string {
	return fmt.Sprintf("conn:%p", conn)
}
