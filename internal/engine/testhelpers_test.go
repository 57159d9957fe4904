package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"quiz-session-core/internal/protocol"
	"quiz-session-core/internal/registry"
)

// fakeBroadcaster is an in-memory stand-in for *registry.Registry: it
// fans out to whichever connections JoinRoom attached, without a websocket.
type fakeBroadcaster struct {
	mu      sync.Mutex
	members map[string][]*registry.Connection
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{members: make(map[string][]*registry.Connection)}
}

func (f *fakeBroadcaster) JoinRoom(conn *registry.Connection, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[roomID] = append(f.members[roomID], conn)
}

func (f *fakeBroadcaster) LeaveRoom(conn *registry.Connection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for roomID, conns := range f.members {
		for i, c := range conns {
			if c == conn {
				f.members[roomID] = append(conns[:i:i], conns[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeBroadcaster) Broadcast(roomID string, msg *protocol.Message) {
	f.mu.Lock()
	conns := append([]*registry.Connection(nil), f.members[roomID]...)
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.Send(msg)
	}
}

func (f *fakeBroadcaster) Send(conn *registry.Connection, msg *protocol.Message) error {
	return conn.Send(msg)
}

// recorder pumps a connection's outbox into a slice a test can poll with
// require.Eventually, standing in for a client reading the websocket.
type recorder struct {
	conn *registry.Connection
	mu   sync.Mutex
	msgs []*protocol.Message
	stop chan struct{}
}

func newRecorder(t *testing.T, userID string) *recorder {
	t.Helper()
	r := &recorder{
		conn: registry.NewConnection(userID, zap.NewNop(), 64),
		stop: make(chan struct{}),
	}
	go r.pump()
	t.Cleanup(r.close)
	return r
}

func (r *recorder) pump() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			for {
				msg, ok := r.conn.Outbox()
				if !ok {
					break
				}
				r.mu.Lock()
				r.msgs = append(r.msgs, msg)
				r.mu.Unlock()
			}
		}
	}
}

func (r *recorder) close() { close(r.stop) }

func (r *recorder) waitFor(t *testing.T, msgType string, timeout time.Duration) *protocol.Message {
	t.Helper()
	var found *protocol.Message
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, m := range r.msgs {
			if m.Type == msgType {
				found = m
				return true
			}
		}
		return false
	}, timeout, 2*time.Millisecond)
	return found
}

func (r *recorder) waitForMatch(t *testing.T, msgType string, match func(*protocol.Message) bool, timeout time.Duration) *protocol.Message {
	t.Helper()
	var found *protocol.Message
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		for _, m := range r.msgs {
			if m.Type == msgType && match(m) {
				found = m
				return true
			}
		}
		return false
	}, timeout, 2*time.Millisecond)
	return found
}

func (r *recorder) countOf(msgType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Type == msgType {
			n++
		}
	}
	return n
}
