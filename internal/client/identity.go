package client

import (
	"encoding/json"
	"os"
	"sync"
)

// Identity is the per-tab identity a device presents on auth. It
// survives a page reload but not a tab close; the session ID alone is
// additionally kept in a longer-lived store so a returning device can
// offer a rejoin.
type Identity struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
	Role      string `json:"role"`
}

// IdentityStore persists the full tab-scoped identity.
// ARCHITECTURAL DISCOVERY: Storage scope is a policy of the store, not
// the agent; swapping stores changes reload-vs-tab-close semantics
// without touching the state machine.
type IdentityStore interface {
	Load() (*Identity, error) // nil, nil when no identity is stored
	Save(identity *Identity) error
	Clear() error
}

// SessionHintStore persists only the session ID, outliving the full
// identity so a fresh tab can suggest rejoining the last session.
type SessionHintStore interface {
	Load() (string, error) // "", nil when no hint is stored
	Save(sessionID string) error
	Clear() error
}

// MemoryIdentityStore keeps the identity in process memory.
type MemoryIdentityStore struct {
	mu       sync.Mutex
	identity *Identity
}

func NewMemoryIdentityStore() *MemoryIdentityStore {
	return &MemoryIdentityStore{}
}

func (s *MemoryIdentityStore) Load() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil, nil
	}
	copied := *s.identity
	return &copied, nil
}

func (s *MemoryIdentityStore) Save(identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *identity
	s.identity = &copied
	return nil
}

func (s *MemoryIdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	return nil
}

// MemorySessionHintStore keeps the session hint in process memory.
type MemorySessionHintStore struct {
	mu        sync.Mutex
	sessionID string
}

func NewMemorySessionHintStore() *MemorySessionHintStore {
	return &MemorySessionHintStore{}
}

func (s *MemorySessionHintStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID, nil
}

func (s *MemorySessionHintStore) Save(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	return nil
}

func (s *MemorySessionHintStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = ""
	return nil
}

// FileIdentityStore persists the identity as JSON on disk, for agents
// embedded in kiosk or lab-machine deployments that restart.
type FileIdentityStore struct {
	mu   sync.Mutex
	path string
}

func NewFileIdentityStore(path string) *FileIdentityStore {
	return &FileIdentityStore{path: path}
}

func (s *FileIdentityStore) Load() (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var identity Identity
	if err := json.Unmarshal(data, &identity); err != nil {
		// A corrupt identity file is the same as no identity
		return nil, nil
	}
	return &identity, nil
}

func (s *FileIdentityStore) Save(identity *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(identity)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0600)
}

func (s *FileIdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// FileSessionHintStore persists the session hint on disk.
type FileSessionHintStore struct {
	mu   sync.Mutex
	path string
}

func NewFileSessionHintStore(path string) *FileSessionHintStore {
	return &FileSessionHintStore{path: path}
}

func (s *FileSessionHintStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return string(data), nil
}

func (s *FileSessionHintStore) Save(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path, []byte(sessionID), 0600)
}

func (s *FileSessionHintStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
