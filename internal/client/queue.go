package client

import (
	"sort"
	"sync"

	"syncdeck/pkg/types"
)

// QueuedUpdate is one state_update held while the agent is offline.
// UpdateType is the caller's classification of the update (typically
// the top-level state key), used as the dedupe key.
type QueuedUpdate struct {
	UpdateType string
	State      map[string]interface{}
	QueuedAt   int64
}

// OfflineQueue buffers outgoing updates while the socket is down.
// FUNCTIONAL DISCOVERY: Dedupe by update type keeping only the newest
// entry bounds memory to one slot per update type no matter how long
// the outage lasts; last-write-wins matches the server's per-key merge
// so replaying the survivor converges to the same state.
type OfflineQueue struct {
	mu      sync.Mutex
	entries map[string]*QueuedUpdate // updateType -> newest entry
}

// NewOfflineQueue creates an empty queue.
func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{
		entries: make(map[string]*QueuedUpdate),
	}
}

// Enqueue stores an update, replacing any queued entry of the same
// update type. The replacement takes a fresh timestamp so drain order
// reflects when the surviving value was produced.
func (q *OfflineQueue) Enqueue(updateType string, state map[string]interface{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries[updateType] = &QueuedUpdate{
		UpdateType: updateType,
		State:      state,
		QueuedAt:   types.NowMillis(),
	}
}

// Len returns the number of queued entries.
func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// DrainOrder removes and returns all entries sorted by queue time
// ascending. The caller replays them one at a time; entries that fail
// to send are put back via Requeue.
func (q *OfflineQueue) DrainOrder() []*QueuedUpdate {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*QueuedUpdate, 0, len(q.entries))
	for _, entry := range q.entries {
		out = append(out, entry)
	}
	q.entries = make(map[string]*QueuedUpdate)

	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt < out[j].QueuedAt
	})
	return out
}

// Requeue puts unsent entries back, preserving their original queue
// times so a later drain keeps the original order. A newer entry of the
// same update type enqueued meanwhile wins.
func (q *OfflineQueue) Requeue(entries []*QueuedUpdate) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, entry := range entries {
		if existing, ok := q.entries[entry.UpdateType]; ok && existing.QueuedAt > entry.QueuedAt {
			continue
		}
		q.entries[entry.UpdateType] = entry
	}
}
