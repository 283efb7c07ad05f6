package interfaces

import "syncdeck/pkg/types"

// Peer is the write side of one live socket as seen by the broadcaster.
// ARCHITECTURAL DISCOVERY: Fan-out depends only on this narrow surface,
// keeping the room package free of WebSocket implementation details.
type Peer interface {
	WriteEnvelope(env *types.Outbound) error
	ClientID() string
	Close() error
}

// ConnectionResolver maps a stable client identity to its currently
// live connection, if any. Resolution is point-in-time: a peer may be
// closed by the time a write is attempted, and callers treat that as a
// best-effort delivery failure.
type ConnectionResolver interface {
	GetClientConnection(clientID string) (Peer, bool)
}
