package types

import (
	"encoding/json"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regexes compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9]{6}$`)
	clientIDRegex  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// StateLimitBytes bounds a single state blob or partial update. The
// session state is deliberately small; anything larger belongs in the
// export pipeline, not the sync layer.
const StateLimitBytes = 16384

// IsValidSessionID checks the fixed 6-character alphanumeric format.
func IsValidSessionID(sessionID string) bool {
	return sessionIDRegex.MatchString(sessionID)
}

// IsValidClientID checks if a client ID meets format requirements.
// FUNCTIONAL DISCOVERY: 1-64 character limit accommodates UUID client
// identities while preventing unbounded map keys in the registry.
func IsValidClientID(clientID string) bool {
	if len(clientID) < 1 || len(clientID) > 64 {
		return false
	}
	return clientIDRegex.MatchString(clientID)
}

// IsValidRole checks if the role is one of the two allowed roles.
func IsValidRole(role string) bool {
	return role == RoleOperator || role == RoleViewer
}

// Validate ensures an auth payload is structurally sound before any
// store lookup happens.
func (p *AuthPayload) Validate() error {
	if !IsValidSessionID(p.SessionID) {
		return ErrInvalidSessionID
	}
	if !IsValidClientID(p.ClientID) {
		return ErrInvalidClientID
	}
	if !IsValidRole(p.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Validate ensures a state update carries a bounded JSON object.
// TECHNICAL DISCOVERY: Size check requires marshaling which adds
// overhead but ensures an accurate byte count after normalization.
func (p *StateUpdatePayload) Validate() error {
	if !IsValidSessionID(p.SessionID) {
		return ErrInvalidSessionID
	}
	if !IsValidClientID(p.ClientID) {
		return ErrInvalidClientID
	}
	if p.State == nil {
		return ErrInvalidState
	}
	stateBytes, err := json.Marshal(p.State)
	if err != nil {
		return ErrInvalidState
	}
	if len(stateBytes) > StateLimitBytes {
		return ErrStateTooLarge
	}
	return nil
}

// Validate ensures an experiment action names a bounded action string.
func (p *ExperimentActionPayload) Validate() error {
	if !IsValidSessionID(p.SessionID) {
		return ErrInvalidSessionID
	}
	if !IsValidClientID(p.ClientID) {
		return ErrInvalidClientID
	}
	if len(p.Action) < 1 || len(p.Action) > 100 {
		return ErrInvalidAction
	}
	return nil
}
