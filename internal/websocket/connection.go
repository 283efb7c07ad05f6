package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"syncdeck/pkg/types"
)

// Connection wraps one physical socket.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to
// prevent race conditions; a single writer goroutine owns the socket's
// write side and everything else goes through the channel.
type Connection struct {
	id      string // ephemeral wsConnectionId, fresh per socket
	conn    *websocket.Conn
	writeCh chan []byte // FUNCTIONAL DISCOVERY: 100 buffer absorbs fan-out bursts without blocking the broadcaster

	clientID      string // stable per-tab identity, set on auth
	sessionID     string // set on auth
	role          string // set on auth
	authenticated bool
	lastHeartbeat time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex // protects auth fields and lastHeartbeat
}

// NewConnection creates a connection wrapper and starts its writer.
func NewConnection(id string, conn *websocket.Conn) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:            id,
		conn:          conn,
		writeCh:       make(chan []byte, 100),
		ctx:           ctx,
		cancel:        cancel,
		lastHeartbeat: time.Now(),
	}

	go c.writeLoop()

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// The channel is never closed: a write failure means the whole connection
// is done, so the loop closes the connection on the way out and the
// cancelled context - not channel state - tells senders to stop. The
// channel is reclaimed with the connection.
func (c *Connection) writeLoop() {
	defer func() {
		_ = c.Close()
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEnvelope marshals and queues one outbound message, stamping the
// timestamp if the caller left it zero.
func (c *Connection) WriteEnvelope(env *types.Outbound) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	if env.Timestamp == 0 {
		env.Timestamp = types.NowMillis()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(5 * time.Second):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Ping sends a transport-level liveness probe.
func (c *Connection) Ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
}

// CloseWithReason writes a close frame carrying a reason the client can
// distinguish (for example "reconnected" on eviction), then closes.
func (c *Connection) CloseWithReason(reason string) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
	return c.Close()
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Bind sets the connection's identity after a successful auth.
func (c *Connection) Bind(clientID, sessionID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clientID = clientID
	c.sessionID = sessionID
	c.role = role
	c.authenticated = true
	c.lastHeartbeat = time.Now()
}

// TouchHeartbeat refreshes the liveness timestamp.
func (c *Connection) TouchHeartbeat() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeartbeat = time.Now()
}

// LastHeartbeat returns the most recent liveness timestamp.
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastHeartbeat
}

// ID returns the ephemeral wsConnectionId.
func (c *Connection) ID() string {
	return c.id
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) ClientID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clientID
}

func (c *Connection) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *Connection) Role() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Done exposes the connection's lifetime for goroutines tied to it.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}
