package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"quiz-session-core/internal/protocol"
)

// ErrConnectionLimit is returned by Attach when a user already holds
// MaxConnectionsPerUser live connections.
var ErrConnectionLimit = fmt.Errorf("registry: connection limit reached")

// Registry is the authoritative set of live connections: per-user counts
// (I3) and per-room fan-out sets (at most one room per connection; the
// one-room-per-user rule is enforced by membership.Store.Join).
type Registry struct {
	maxConnsPerUser int

	mu       sync.RWMutex
	byUser   map[string]map[*Connection]struct{}
	byRoom   map[string]map[*Connection]struct{}
	connRoom map[*Connection]string

	logger *zap.Logger
}

// New builds a registry enforcing maxConnsPerUser concurrent connections
// per user.
func New(maxConnsPerUser int, logger *zap.Logger) *Registry {
	return &Registry{
		maxConnsPerUser: maxConnsPerUser,
		byUser:          make(map[string]map[*Connection]struct{}),
		byRoom:          make(map[string]map[*Connection]struct{}),
		connRoom:        make(map[*Connection]string),
		logger:          logger,
	}
}

// Attach registers a new connection for userID, failing with
// ErrConnectionLimit if the user is already at capacity.
func (r *Registry) Attach(conn *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.byUser[conn.userID]
	if len(set) >= r.maxConnsPerUser {
		return ErrConnectionLimit
	}
	if set == nil {
		set = make(map[*Connection]struct{})
		r.byUser[conn.userID] = set
	}
	set[conn] = struct{}{}
	return nil
}

// Detach idempotently removes a connection from the registry, returning
// the roomId it was attached to (if any) so the caller can notify that
// room of the disconnect.
func (r *Registry) Detach(conn *Connection) (roomID string, wasInRoom bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.byUser[conn.userID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.byUser, conn.userID)
		}
	}

	roomID, wasInRoom = r.connRoom[conn]
	if wasInRoom {
		delete(r.connRoom, conn)
		if roomSet, ok := r.byRoom[roomID]; ok {
			delete(roomSet, conn)
			if len(roomSet) == 0 {
				delete(r.byRoom, roomID)
			}
		}
	}
	return roomID, wasInRoom
}

// JoinRoom attaches conn to roomId's fan-out set. A connection may belong
// to at most one room; joining a new room implicitly leaves the old one.
func (r *Registry) JoinRoom(conn *Connection, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.connRoom[conn]; ok && prev != roomID {
		if set, ok := r.byRoom[prev]; ok {
			delete(set, conn)
			if len(set) == 0 {
				delete(r.byRoom, prev)
			}
		}
	}

	set, ok := r.byRoom[roomID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.byRoom[roomID] = set
	}
	set[conn] = struct{}{}
	r.connRoom[conn] = roomID
	conn.setRoomID(roomID)
}

// LeaveRoom detaches conn from its current room's fan-out set.
func (r *Registry) LeaveRoom(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.connRoom[conn]
	if !ok {
		return
	}
	delete(r.connRoom, conn)
	if set, ok := r.byRoom[roomID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(r.byRoom, roomID)
		}
	}
	conn.setRoomID("")
}

// Broadcast hands msg to every connection currently joined to roomId; each
// connection's write loop marshals it separately, so the frame is not
// serialized once for the whole room. Connections whose send buffer is full are
// dropped and scheduled for detach; a slow client never blocks others.
func (r *Registry) Broadcast(roomID string, msg *protocol.Message) {
	r.mu.RLock()
	set := r.byRoom[roomID]
	targets := make([]*Connection, 0, len(set))
	for c := range set {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			r.logger.Debug("broadcast send failed, closing connection",
				zap.String("room_id", roomID), zap.Error(err))
			go c.Close(websocket.StatusInternalError, "send failed")
		}
	}
}

// Send delivers a frame to a single connection.
func (r *Registry) Send(conn *Connection, msg *protocol.Message) error {
	return conn.Send(msg)
}

// RoomMembers returns the connections currently fanned out to a room.
func (r *Registry) RoomMembers(roomID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byRoom[roomID]
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// ConnectionCount returns the number of live connections, for the health
// endpoint.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.byUser {
		n += len(set)
	}
	return n
}

// AllConnections returns every live connection, used by graceful shutdown
// to issue close frames.
func (r *Registry) AllConnections() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Connection, 0)
	for _, set := range r.byUser {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}
