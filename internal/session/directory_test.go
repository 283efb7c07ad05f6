package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

// mockSessionStore is a hand-rolled in-memory SessionStore.
type mockSessionStore struct {
	sessions   map[string]*types.Session
	deleted    []string
	failCreate int // fail the first N creates with a unique violation
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[string]*types.Session)}
}

func (m *mockSessionStore) CreateSession(ctx context.Context, session *types.Session) error {
	if m.failCreate > 0 {
		m.failCreate--
		return errors.New("UNIQUE constraint failed: sessions.id")
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockSessionStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, interfaces.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *mockSessionStore) UpdateSession(ctx context.Context, session *types.Session) error {
	if _, ok := m.sessions[session.ID]; !ok {
		return interfaces.ErrSessionNotFound
	}
	copied := *session
	m.sessions[session.ID] = &copied
	return nil
}

func (m *mockSessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	delete(m.sessions, sessionID)
	m.deleted = append(m.deleted, sessionID)
	return nil
}

func (m *mockSessionStore) CleanupSessions(ctx context.Context, cutoff time.Time) (int, error) {
	count := 0
	for id, session := range m.sessions {
		if session.LastActiveAt.Before(cutoff) {
			delete(m.sessions, id)
			count++
		}
	}
	return count, nil
}

func TestDirectory_CreateSession(t *testing.T) {
	store := newMockSessionStore()
	directory := NewDirectory(store, 30*time.Minute, 8)

	session, err := directory.Create(context.Background(), "operator-1")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !types.IsValidSessionID(session.ID) {
		t.Errorf("Generated ID %q should be 6 alphanumeric chars", session.ID)
	}
	if session.CreatedBy != "operator-1" {
		t.Errorf("Expected createdBy operator-1, got %q", session.CreatedBy)
	}
	if !session.IsActive {
		t.Error("New session should be active")
	}
	if session.MaxClients != 8 {
		t.Errorf("Expected maxClients 8, got %d", session.MaxClients)
	}
	if session.State == nil || len(session.State) != 0 {
		t.Error("New session should start with an empty state object")
	}
}

func TestDirectory_CreateRejectsBadCreator(t *testing.T) {
	directory := NewDirectory(newMockSessionStore(), 30*time.Minute, 8)

	if _, err := directory.Create(context.Background(), ""); err != ErrInvalidCreatedBy {
		t.Errorf("Expected ErrInvalidCreatedBy, got %v", err)
	}
}

func TestDirectory_CreateRetriesOnCollision(t *testing.T) {
	store := newMockSessionStore()
	store.failCreate = 2 // first two inserts collide
	directory := NewDirectory(store, 30*time.Minute, 8)

	session, err := directory.Create(context.Background(), "operator-1")
	if err != nil {
		t.Fatalf("Create should survive collisions via retry: %v", err)
	}
	if _, ok := store.sessions[session.ID]; !ok {
		t.Error("Retried session should be persisted")
	}
}

func TestDirectory_CreateGivesUpAfterMaxAttempts(t *testing.T) {
	store := newMockSessionStore()
	store.failCreate = 100
	directory := NewDirectory(store, 30*time.Minute, 8)

	if _, err := directory.Create(context.Background(), "operator-1"); err != ErrIDCollision {
		t.Errorf("Expected ErrIDCollision, got %v", err)
	}
}

// Lazy expiry: an idle session is deleted on read even before any sweep.
func TestDirectory_GetExpiresIdleSession(t *testing.T) {
	store := newMockSessionStore()
	directory := NewDirectory(store, 30*time.Minute, 8)

	store.sessions["ABC123"] = &types.Session{
		ID:           "ABC123",
		IsActive:     true,
		LastActiveAt: time.Now().Add(-31 * time.Minute),
	}

	if _, err := directory.Get(context.Background(), "ABC123"); err != ErrSessionNotFound {
		t.Fatalf("Idle session should read as not found, got %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0] != "ABC123" {
		t.Error("Idle session should be deleted as a side effect of the read")
	}
}

func TestDirectory_GetReturnsFreshSession(t *testing.T) {
	store := newMockSessionStore()
	directory := NewDirectory(store, 30*time.Minute, 8)

	store.sessions["ABC123"] = &types.Session{
		ID:           "ABC123",
		IsActive:     true,
		LastActiveAt: time.Now().Add(-5 * time.Minute),
	}

	session, err := directory.Get(context.Background(), "ABC123")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if session.ID != "ABC123" {
		t.Errorf("Expected session ABC123, got %q", session.ID)
	}
}

func TestDirectory_TouchRefreshesActivity(t *testing.T) {
	store := newMockSessionStore()
	directory := NewDirectory(store, 30*time.Minute, 8)

	stale := time.Now().Add(-20 * time.Minute)
	store.sessions["ABC123"] = &types.Session{
		ID:           "ABC123",
		IsActive:     true,
		LastActiveAt: stale,
	}

	if err := directory.Touch(context.Background(), "ABC123"); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}
	if !store.sessions["ABC123"].LastActiveAt.After(stale) {
		t.Error("Touch should advance lastActiveAt")
	}
}

// Shallow merge: last write wins per top-level key; untouched keys survive.
func TestDirectory_UpdateStateMergesPerKey(t *testing.T) {
	store := newMockSessionStore()
	directory := NewDirectory(store, 30*time.Minute, 8)
	ctx := context.Background()

	store.sessions["ABC123"] = &types.Session{
		ID:           "ABC123",
		IsActive:     true,
		LastActiveAt: time.Now(),
		State: map[string]interface{}{
			"step":    float64(2),
			"gesture": "pinch",
		},
	}

	merged, err := directory.UpdateState(ctx, "ABC123", map[string]interface{}{
		"step": float64(3),
	})
	if err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	if merged.State["step"] != float64(3) {
		t.Errorf("Updated key should take the new value, got %v", merged.State["step"])
	}
	if merged.State["gesture"] != "pinch" {
		t.Errorf("Untouched key should survive the merge, got %v", merged.State["gesture"])
	}
}

func TestDirectory_DeleteSession(t *testing.T) {
	store := newMockSessionStore()
	directory := NewDirectory(store, 30*time.Minute, 8)

	store.sessions["ABC123"] = &types.Session{
		ID:           "ABC123",
		IsActive:     true,
		LastActiveAt: time.Now(),
	}

	if err := directory.Delete(context.Background(), "ABC123"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := store.sessions["ABC123"]; ok {
		t.Error("Session should be removed")
	}

	if err := directory.Delete(context.Background(), "ABC123"); err != ErrSessionNotFound {
		t.Errorf("Deleting a missing session: expected ErrSessionNotFound, got %v", err)
	}
}

func TestDirectory_CleanupExpired(t *testing.T) {
	store := newMockSessionStore()
	directory := NewDirectory(store, 30*time.Minute, 8)

	store.sessions["OLDSES"] = &types.Session{ID: "OLDSES", LastActiveAt: time.Now().Add(-time.Hour)}
	store.sessions["NEWSES"] = &types.Session{ID: "NEWSES", LastActiveAt: time.Now()}

	deleted, err := directory.CleanupExpired(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 swept session, got %d", deleted)
	}
	if _, ok := store.sessions["NEWSES"]; !ok {
		t.Error("Active session should survive the sweep")
	}
}

func TestGenerateID_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := GenerateID()
		if err != nil {
			t.Fatalf("GenerateID failed: %v", err)
		}
		if !types.IsValidSessionID(id) {
			t.Fatalf("Generated ID %q is not valid", id)
		}
		if seen[id] {
			t.Fatalf("Duplicate ID %q within 1000 generations", id)
		}
		seen[id] = true
	}
}
