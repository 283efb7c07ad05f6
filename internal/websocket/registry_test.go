package websocket

import (
	"testing"
	"time"
)

// mockRooms is a hand-rolled RoomMembership for registry tests.
type mockRooms struct {
	left     []string // "sessionID/clientID" pairs
	hasRooms map[string]bool
}

func newMockRooms() *mockRooms {
	return &mockRooms{hasRooms: make(map[string]bool)}
}

func (m *mockRooms) Leave(sessionID, clientID string) {
	m.left = append(m.left, sessionID+"/"+clientID)
}

func (m *mockRooms) HasRoom(sessionID string) bool {
	return m.hasRooms[sessionID]
}

func newTestRegistry(rooms RoomMembership) *Registry {
	limiter := NewRateLimiter(20, 10, 5)
	return NewRegistry(limiter, rooms, 60*time.Second)
}

func TestRegistry_RegisterNilConnection(t *testing.T) {
	registry := newTestRegistry(newMockRooms())

	if err := registry.Register(nil); err != ErrNilConnection {
		t.Errorf("Expected ErrNilConnection, got %v", err)
	}
}

func TestRegistry_AuthenticateRequiresRegistration(t *testing.T) {
	registry := newTestRegistry(newMockRooms())

	wsConn := createTestWebSocketConnection(t)
	conn := NewConnection("conn-1", wsConn)
	defer conn.Close()

	if _, err := registry.Authenticate(conn, "client-a", "ABC123", "viewer"); err != ErrNotRegistered {
		t.Errorf("Expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistry_AuthenticateFirstJoin(t *testing.T) {
	registry := newTestRegistry(newMockRooms())

	wsConn := createTestWebSocketConnection(t)
	conn := NewConnection("conn-1", wsConn)
	defer conn.Close()

	if err := registry.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	isReconnect, err := registry.Authenticate(conn, "client-a", "ABC123", "viewer")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if isReconnect {
		t.Error("First authenticate should not report a reconnect")
	}

	peer, ok := registry.GetClientConnection("client-a")
	if !ok {
		t.Fatal("Client connection not found after authenticate")
	}
	if peer.ClientID() != "client-a" {
		t.Errorf("Expected clientID 'client-a', got '%s'", peer.ClientID())
	}
}

// Exactly one connection remains bound after two authenticate calls
// sharing a clientId; the older socket is evicted from every map.
func TestRegistry_ReconnectEviction(t *testing.T) {
	rooms := newMockRooms()
	registry := newTestRegistry(rooms)

	conn1 := NewConnection("conn-1", createTestWebSocketConnection(t))
	conn2 := NewConnection("conn-2", createTestWebSocketConnection(t))
	defer conn1.Close()
	defer conn2.Close()

	registry.Register(conn1)
	registry.Register(conn2)

	if _, err := registry.Authenticate(conn1, "client-a", "ABC123", "viewer"); err != nil {
		t.Fatalf("First authenticate failed: %v", err)
	}

	isReconnect, err := registry.Authenticate(conn2, "client-a", "ABC123", "viewer")
	if err != nil {
		t.Fatalf("Second authenticate failed: %v", err)
	}
	if !isReconnect {
		t.Error("Second authenticate for the same clientId should report a reconnect")
	}

	peer, ok := registry.GetClientConnection("client-a")
	if !ok {
		t.Fatal("Client connection missing after reconnect")
	}
	if peer.(*Connection).ID() != "conn-2" {
		t.Errorf("Most recent connection should win, got '%s'", peer.(*Connection).ID())
	}

	stats := registry.GetStats()
	if stats["total_connections"] != 1 {
		t.Errorf("Evicted socket should leave the connection map, got %d entries", stats["total_connections"])
	}
	if stats["bound_clients"] != 1 {
		t.Errorf("Expected 1 bound client, got %d", stats["bound_clients"])
	}

	if len(rooms.left) != 1 || rooms.left[0] != "ABC123/client-a" {
		t.Errorf("Eviction should drop the old room binding, got %v", rooms.left)
	}
}

// An evicted socket's own teardown must not unbind its replacement.
func TestRegistry_UnregisterGuardsReplacement(t *testing.T) {
	registry := newTestRegistry(newMockRooms())

	conn1 := NewConnection("conn-1", createTestWebSocketConnection(t))
	conn2 := NewConnection("conn-2", createTestWebSocketConnection(t))
	defer conn1.Close()
	defer conn2.Close()

	registry.Register(conn1)
	registry.Register(conn2)
	registry.Authenticate(conn1, "client-a", "ABC123", "viewer")
	registry.Authenticate(conn2, "client-a", "ABC123", "viewer")

	// The evicted socket's read pump fires its disconnect path late
	wasBound := registry.Unregister(conn1)
	if wasBound {
		t.Error("Evicted socket should not count as bound")
	}

	if _, ok := registry.GetClientConnection("client-a"); !ok {
		t.Error("Replacement connection must survive the stale unregister")
	}
}

func TestRegistry_UnregisterBoundConnection(t *testing.T) {
	registry := newTestRegistry(newMockRooms())

	conn := NewConnection("conn-1", createTestWebSocketConnection(t))
	registry.Register(conn)
	registry.Authenticate(conn, "client-a", "ABC123", "viewer")

	wasBound := registry.Unregister(conn)
	if !wasBound {
		t.Error("Bound connection should report wasBound on unregister")
	}

	if _, ok := registry.GetClientConnection("client-a"); ok {
		t.Error("Client binding should be gone after unregister")
	}
	if registry.GetStats()["total_connections"] != 0 {
		t.Error("Connection map should be empty after unregister")
	}
}

// IsBound is how the auth path detects a sweep eviction that raced the
// room join: it must turn false the moment the binding is gone, and
// must never report a replaced socket as bound.
func TestRegistry_IsBoundTracksEvictions(t *testing.T) {
	registry := newTestRegistry(newMockRooms())

	conn1 := NewConnection("conn-1", createTestWebSocketConnection(t))
	conn2 := NewConnection("conn-2", createTestWebSocketConnection(t))
	defer conn1.Close()
	defer conn2.Close()

	if registry.IsBound(conn1) {
		t.Error("Unregistered connection should not be bound")
	}

	registry.Register(conn1)
	registry.Authenticate(conn1, "client-a", "ABC123", "viewer")
	if !registry.IsBound(conn1) {
		t.Error("Authenticated connection should be bound")
	}

	// Sweep-style eviction drops the binding
	registry.Unregister(conn1)
	if registry.IsBound(conn1) {
		t.Error("Unregister must clear the binding")
	}

	// Reconnect eviction binds only the newest socket
	registry.Register(conn1)
	registry.Register(conn2)
	registry.Authenticate(conn1, "client-a", "ABC123", "viewer")
	registry.Authenticate(conn2, "client-a", "ABC123", "viewer")
	if registry.IsBound(conn1) {
		t.Error("Evicted socket must not report as bound")
	}
	if !registry.IsBound(conn2) {
		t.Error("Replacement socket should be bound")
	}
}

func TestRegistry_SweepEvictsStaleConnections(t *testing.T) {
	rooms := newMockRooms()
	rooms.hasRooms["ABC123"] = true
	registry := newTestRegistry(rooms)

	conn := NewConnection("conn-1", createTestWebSocketConnection(t))
	registry.Register(conn)
	registry.Authenticate(conn, "client-a", "ABC123", "viewer")

	// Sweep at a fake "now" past the heartbeat timeout
	evicted := registry.SweepOnce(time.Now().Add(2 * time.Minute))
	if len(evicted) != 1 {
		t.Fatalf("Expected 1 eviction, got %d", len(evicted))
	}
	if registry.GetStats()["total_connections"] != 0 {
		t.Error("Stale connection should be removed by the sweep")
	}
}

func TestRegistry_SweepEvictsOrphanedConnections(t *testing.T) {
	rooms := newMockRooms() // HasRoom returns false for everything
	registry := newTestRegistry(rooms)

	conn := NewConnection("conn-1", createTestWebSocketConnection(t))
	registry.Register(conn)
	registry.Authenticate(conn, "client-a", "ABC123", "viewer")

	evicted := registry.SweepOnce(time.Now())
	if len(evicted) != 1 {
		t.Fatalf("Authenticated connection without a room should be evicted, got %d evictions", len(evicted))
	}
}

func TestRegistry_SweepKeepsHealthyConnections(t *testing.T) {
	rooms := newMockRooms()
	rooms.hasRooms["ABC123"] = true
	registry := newTestRegistry(rooms)

	conn := NewConnection("conn-1", createTestWebSocketConnection(t))
	defer conn.Close()
	registry.Register(conn)
	registry.Authenticate(conn, "client-a", "ABC123", "viewer")

	evicted := registry.SweepOnce(time.Now())
	if len(evicted) != 0 {
		t.Errorf("Healthy connection should survive the sweep, got %d evictions", len(evicted))
	}
}
