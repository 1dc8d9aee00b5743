package lobby

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

// OutChanSize is the per-connection outbound buffer. A client that cannot
// drain this many frames is considered broken and gets dropped.
const OutChanSize = 32

// Conn is a single user's live presence in a lobby: the write side of one
// WebSocket session. The transport pumps live in the handlers package; the
// core only ever touches OutChan and Cancel.
type Conn struct {
	UserID    uuid.UUID
	Username  string
	IsPremium bool

	// Cancel stops the read/write pumps tied to this connection.
	Cancel context.CancelFunc
	// OutChan carries outbound frames to the write pump.
	OutChan chan map[string]interface{}

	// mu serializes Write against Close. Writes come from the read pump
	// while the coordinator can close the connection concurrently (kick,
	// ban, supersede); without this, a send could race close(OutChan).
	mu     sync.Mutex
	closed bool
}

// NewConn builds a connection handle for userID with a buffered out channel.
func NewConn(userID uuid.UUID, username string, premium bool, cancel context.CancelFunc) *Conn {
	return &Conn{
		UserID:    userID,
		Username:  username,
		IsPremium: premium,
		Cancel:    cancel,
		OutChan:   make(chan map[string]interface{}, OutChanSize),
	}
}

// Write pushes a frame onto OutChan without blocking. Returns false if the
// buffer is full or the connection is already closed. Safe to call
// concurrently with Close.
func (c *Conn) Write(msg map[string]interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.OutChan <- msg:
		return true
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("conn %s: out channel full, dropped frame %q", c.UserID, msgType)
		return false
	}
}

// WriteError is a convenience to send an error frame.
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    FrameError,
		"message": msg,
	})
}

// Close cancels the pumps and closes OutChan. Idempotent, and safe against
// concurrent Writes from the read pump.
func (c *Conn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.OutChan)
	c.mu.Unlock()

	if c.Cancel != nil {
		c.Cancel()
	}
}

// ConnectionRegistry maps userID -> live connection for one lobby. A user
// holds at most one connection per lobby; registering over an existing one
// supersedes it (last-connection-wins). Methods assume the coordinator's
// lock is held; the registry has no lock of its own.
type ConnectionRegistry struct {
	conns map[uuid.UUID]*Conn
}

func newConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{conns: make(map[uuid.UUID]*Conn)}
}

// Register installs conn as the user's live connection and returns the
// superseded connection, already closed, if there was one.
func (r *ConnectionRegistry) Register(conn *Conn) *Conn {
	old := r.conns[conn.UserID]
	if old == conn {
		return nil
	}
	if old != nil {
		old.Close()
	}
	r.conns[conn.UserID] = conn
	return old
}

// Unregister removes conn if it is still the user's current connection and
// closes it. Idempotent: repeated calls, or calls for a connection already
// superseded by a newer one, return false and change nothing.
func (r *ConnectionRegistry) Unregister(conn *Conn) bool {
	current, ok := r.conns[conn.UserID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, conn.UserID)
	conn.Close()
	return true
}

// Connection returns the live connection for userID, if any.
func (r *ConnectionRegistry) Connection(userID uuid.UUID) (*Conn, bool) {
	c, ok := r.conns[userID]
	return c, ok
}

// List snapshots the current connections.
func (r *ConnectionRegistry) List() []*Conn {
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	return out
}

// Len is the number of live connections.
func (r *ConnectionRegistry) Len() int {
	return len(r.conns)
}
