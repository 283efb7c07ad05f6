package client

import (
	"os"
	"path/filepath"
	"testing"
)

func testIdentity() *Identity {
	return &Identity{SessionID: "ABC123", ClientID: "client-a", Role: "viewer"}
}

func TestMemoryIdentityStore_RoundTrip(t *testing.T) {
	store := NewMemoryIdentityStore()

	loaded, err := store.Load()
	if err != nil || loaded != nil {
		t.Fatalf("Empty store should load nil, nil; got %v, %v", loaded, err)
	}

	if err := store.Save(testIdentity()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err = store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SessionID != "ABC123" || loaded.ClientID != "client-a" || loaded.Role != "viewer" {
		t.Errorf("Loaded identity mismatch: %+v", loaded)
	}

	// The store hands out copies; callers cannot mutate stored state
	loaded.SessionID = "MUTATE"
	again, _ := store.Load()
	if again.SessionID != "ABC123" {
		t.Error("Load should return an independent copy")
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	loaded, _ = store.Load()
	if loaded != nil {
		t.Error("Cleared store should load nil")
	}
}

func TestMemorySessionHintStore_RoundTrip(t *testing.T) {
	store := NewMemorySessionHintStore()

	hint, err := store.Load()
	if err != nil || hint != "" {
		t.Fatalf("Empty store should load empty hint, got %q, %v", hint, err)
	}

	store.Save("ABC123")
	hint, _ = store.Load()
	if hint != "ABC123" {
		t.Errorf("Expected ABC123, got %q", hint)
	}

	store.Clear()
	hint, _ = store.Load()
	if hint != "" {
		t.Error("Cleared store should load empty hint")
	}
}

func TestFileIdentityStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	store := NewFileIdentityStore(path)

	loaded, err := store.Load()
	if err != nil || loaded != nil {
		t.Fatalf("Missing file should load nil, nil; got %v, %v", loaded, err)
	}

	if err := store.Save(testIdentity()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err = store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.SessionID != "ABC123" || loaded.Role != "viewer" {
		t.Errorf("Loaded identity mismatch: %+v", loaded)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Clear should remove the identity file")
	}

	// Clear on a missing file is fine
	if err := store.Clear(); err != nil {
		t.Errorf("Double clear failed: %v", err)
	}
}

func TestFileIdentityStore_CorruptFileReadsAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	store := NewFileIdentityStore(path)
	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("Corrupt file should not error: %v", err)
	}
	if loaded != nil {
		t.Error("Corrupt file should read as no identity")
	}
}

func TestFileSessionHintStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.hint")
	store := NewFileSessionHintStore(path)

	hint, err := store.Load()
	if err != nil || hint != "" {
		t.Fatalf("Missing file should load empty hint, got %q, %v", hint, err)
	}

	if err := store.Save("ABC123"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	hint, _ = store.Load()
	if hint != "ABC123" {
		t.Errorf("Expected ABC123, got %q", hint)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	hint, _ = store.Load()
	if hint != "" {
		t.Error("Cleared store should load empty hint")
	}
}
