package room

import (
	"sync"
	"time"

	"syncdeck/pkg/types"
)

// Registry is the ephemeral sessionId -> members view used only for
// fan-out. It is rebuilt from connection transitions and is always
// re-derivable; nothing here is persisted.
// ARCHITECTURAL DISCOVERY: Pure membership bookkeeping without delivery
// logic keeps the registry testable independent of sockets.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]types.Member // sessionID -> clientID -> member
}

// NewRegistry creates an empty room registry.
// FUNCTIONAL DISCOVERY: Initialize the map to prevent nil access during
// concurrent operations
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[string]types.Member),
	}
}

// Join upserts a member into a session's room. Idempotent: rejoining
// refreshes the role but keeps the original joinedAt.
// maxClients of 0 means unlimited; the cap never rejects a client that
// is already a member, so reconnects cannot be locked out of a full room.
func (r *Registry) Join(sessionID, clientID, role string, maxClients int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[sessionID]
	if members == nil {
		members = make(map[string]types.Member)
		r.rooms[sessionID] = members
	}

	if existing, ok := members[clientID]; ok {
		existing.Role = role
		members[clientID] = existing
		return nil
	}

	if maxClients > 0 && len(members) >= maxClients {
		return ErrRoomFull
	}

	members[clientID] = types.Member{
		ClientID: clientID,
		Role:     role,
		JoinedAt: time.Now(),
	}
	return nil
}

// Leave removes a member; idempotent. A room with zero members is
// deleted so HasRoom reflects live occupancy.
func (r *Registry) Leave(sessionID, clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[sessionID]
	if !ok {
		return
	}
	delete(members, clientID)
	if len(members) == 0 {
		delete(r.rooms, sessionID)
	}
}

// GetMembers returns a snapshot of the room's membership.
func (r *Registry) GetMembers(sessionID string) []types.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[sessionID]
	if !ok {
		return nil
	}

	out := make([]types.Member, 0, len(members))
	for _, member := range members {
		out = append(out, member)
	}
	return out
}

// GetMember returns one member entry if present.
func (r *Registry) GetMember(sessionID, clientID string) (types.Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.rooms[sessionID]
	if !ok {
		return types.Member{}, false
	}
	member, ok := members[clientID]
	return member, ok
}

// HasRoom reports whether any member is present for the session. The
// heartbeat sweep uses this instead of touching the persisted store.
func (r *Registry) HasRoom(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.rooms[sessionID]
	return ok
}

// GetStats returns registry statistics for the health surface.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, members := range r.rooms {
		total += len(members)
	}
	return map[string]int{
		"active_rooms":  len(r.rooms),
		"total_members": total,
	}
}
