// Package registry implements the connection registry (C3): tracking live
// client sessions, enforcing the per-user connection cap and per-connection
// rate limit, and providing the fan-out broadcast primitive.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"quiz-session-core/internal/protocol"
)

// Connection wraps one live websocket session.
type Connection struct {
	conn   *websocket.Conn
	userID string
	logger *zap.Logger

	sendChan  chan *protocol.Message
	closeChan chan struct{}

	mu     sync.Mutex
	closed bool
	roomID string
}

// NewConnection builds a Connection with no live transport, for tests in
// other packages that need to exercise a Dispatcher against a connection
// they can inspect (via Outbox) without a websocket round-trip.
func NewConnection(userID string, logger *zap.Logger, bufferSize int) *Connection {
	return &Connection{
		userID:    userID,
		logger:    logger,
		sendChan:  make(chan *protocol.Message, bufferSize),
		closeChan: make(chan struct{}),
	}
}

// Outbox drains one pending outbound frame, non-blocking. ok is false if
// no frame is pending.
func (c *Connection) Outbox() (*protocol.Message, bool) {
	select {
	case msg := <-c.sendChan:
		return msg, true
	default:
		return nil, false
	}
}

// UserID returns the authenticated user this connection belongs to.
func (c *Connection) UserID() string { return c.userID }

// RoomID returns the room this connection is currently attached to, if any.
func (c *Connection) RoomID() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID, c.roomID != ""
}

func (c *Connection) setRoomID(roomID string) {
	c.mu.Lock()
	c.roomID = roomID
	c.mu.Unlock()
}

// Send enqueues a frame for delivery, non-blocking: a full outbound buffer
// means the client is too slow and the send is dropped rather than
// stalling the caller (the serial executor that produced the frame).
func (c *Connection) Send(msg *protocol.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return fmt.Errorf("registry: connection closed")
	}

	select {
	case c.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("registry: send buffer full")
	}
}

// Close idempotently tears down the connection.
func (c *Connection) Close(code websocket.StatusCode, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.closeChan)
	return c.conn.Close(code, reason)
}

func (c *Connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-c.closeChan:
			return
		case msg := <-c.sendChan:
			data, err := json.Marshal(msg)
			if err != nil {
				c.logger.Error("marshal outbound frame", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err = c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				c.logger.Debug("write failed, closing connection", zap.Error(err))
				return
			}
		}
	}
}

func (c *Connection) readLoop(ctx context.Context, maxFrameBytes int, onFrame func([]byte)) {
	c.conn.SetReadLimit(int64(maxFrameBytes) + 256)
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		onFrame(data)
	}
}
