package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "registry")

// RoomMembership is the slice of the room registry the connection
// registry needs: dropping bindings on eviction and the in-memory
// liveness check used by the heartbeat sweep.
type RoomMembership interface {
	Leave(sessionID, clientID string)
	HasRoom(sessionID string) bool
}

// Registry manages per-socket bookkeeping with thread-safe operations:
// registration, authentication with reconnect eviction, rate limiting,
// and the heartbeat sweep. Nothing here is persisted.
// ARCHITECTURAL DISCOVERY: Pure connection management without protocol
// logic keeps the tie-break policy ("most recent tab always wins")
// testable without sockets on the wire.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*Connection // wsConnectionId -> Connection
	clients     map[string]*Connection // clientId -> Connection for O(1) eviction lookup

	limiter          *RateLimiter
	rooms            RoomMembership
	heartbeatTimeout time.Duration
}

// NewRegistry creates a connection registry.
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer
// access during concurrent operations
func NewRegistry(limiter *RateLimiter, rooms RoomMembership, heartbeatTimeout time.Duration) *Registry {
	return &Registry{
		connections:      make(map[string]*Connection),
		clients:          make(map[string]*Connection),
		limiter:          limiter,
		rooms:            rooms,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Register adds an unauthenticated connection with fresh rate-limiter
// token state (full capacity, now as lastRefill).
func (r *Registry) Register(conn *Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn
	r.limiter.Track(conn.ID())
	return nil
}

// Authenticate binds a client identity to a connection. If the clientId
// already maps to a different connection, that socket is force-closed
// with a "reconnected" close reason, its room binding dropped, and the
// identity rebound to the new handle. isReconnect reports that an
// eviction occurred.
// FUNCTIONAL DISCOVERY: Most recent tab always wins; stale sockets are
// never left dangling in any map.
func (r *Registry) Authenticate(conn *Connection, clientID, sessionID, role string) (bool, error) {
	if conn == nil {
		return false, ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, registered := r.connections[conn.ID()]; !registered {
		return false, ErrNotRegistered
	}

	isReconnect := false
	if existing, ok := r.clients[clientID]; ok && existing != conn {
		isReconnect = true
		delete(r.connections, existing.ID())
		r.limiter.Untrack(existing.ID())
		r.rooms.Leave(existing.SessionID(), clientID)

		// FUNCTIONAL DISCOVERY: Close the evicted socket asynchronously to
		// avoid blocking authentication on a dead peer's TCP state
		go func(old *Connection) {
			if err := old.CloseWithReason("reconnected"); err != nil {
				log.WithError(err).Debug("failed to close evicted connection")
			}
		}(existing)

		log.WithFields(logrus.Fields{
			"clientId":  clientID,
			"oldConnId": existing.ID(),
			"newConnId": conn.ID(),
		}).Info("evicted stale connection on reconnect")
	}

	conn.Bind(clientID, sessionID, role)
	r.clients[clientID] = conn

	return isReconnect, nil
}

// Unregister removes a connection from all maps, drops its room binding
// if it is still the bound socket for its client, closes the socket if
// still open, and frees rate-limiter state. Idempotent.
// RACE CONDITION FIX: The clientId binding is only removed when it
// still points at this exact connection, so a closing evicted socket
// can never unbind its replacement.
func (r *Registry) Unregister(conn *Connection) (wasBound bool) {
	if conn == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.connections, conn.ID())
	r.limiter.Untrack(conn.ID())

	clientID := conn.ClientID()
	if clientID != "" {
		if bound, ok := r.clients[clientID]; ok && bound == conn {
			delete(r.clients, clientID)
			r.rooms.Leave(conn.SessionID(), clientID)
			wasBound = true
		}
	}

	_ = conn.Close()
	return wasBound
}

// IsBound reports whether the connection is still the live binding for
// its client identity. False once the sweep or a reconnect eviction has
// unregistered it.
func (r *Registry) IsBound(conn *Connection) bool {
	if conn == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	bound, ok := r.clients[conn.ClientID()]
	return ok && bound == conn
}

// GetClientConnection returns the live connection for a client.
// Implements interfaces.ConnectionResolver for the broadcaster.
func (r *Registry) GetClientConnection(clientID string) (interfaces.Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.clients[clientID]
	if !ok {
		return nil, false
	}
	return conn, true
}

// AllowMessage runs one token-bucket consumption for the connection.
func (r *Registry) AllowMessage(conn *Connection) types.RateDecision {
	return r.limiter.Allow(conn.ID())
}

// SweepOnce walks all connections once: evict those past the heartbeat
// timeout or whose bound session has no room entry, and probe the rest
// with a transport ping. Returns the evicted connections.
// ARCHITECTURAL DISCOVERY: The sweep deliberately consults only
// in-memory state, never the persisted store, staying O(connections)
// and non-blocking; authoritative persistence checks live elsewhere.
func (r *Registry) SweepOnce(now time.Time) []*Connection {
	r.mu.RLock()
	candidates := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		candidates = append(candidates, conn)
	}
	r.mu.RUnlock()

	var evicted []*Connection
	for _, conn := range candidates {
		stale := now.Sub(conn.LastHeartbeat()) > r.heartbeatTimeout
		orphaned := conn.IsAuthenticated() && !r.rooms.HasRoom(conn.SessionID())

		if stale || orphaned {
			log.WithFields(logrus.Fields{
				"connId":   conn.ID(),
				"clientId": conn.ClientID(),
				"stale":    stale,
				"orphaned": orphaned,
			}).Info("heartbeat sweep evicting connection")
			r.Unregister(conn)
			evicted = append(evicted, conn)
			continue
		}

		if err := conn.Ping(); err != nil {
			log.WithError(err).WithField("connId", conn.ID()).Debug("liveness probe failed")
		}
	}

	return evicted
}

// RunHeartbeatSweep runs the sweep at a fixed interval until the
// context is cancelled.
func (r *Registry) RunHeartbeatSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.SweepOnce(time.Now())
		case <-ctx.Done():
			return
		}
	}
}

// GetStats returns registry statistics for the health surface.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"bound_clients":     len(r.clients),
	}
}
