package session

import (
	"crypto/rand"
	"fmt"
)

// sessionIDCharset is the alphabet for session IDs. The 6-character
// alphanumeric format is an external contract shared with the UI.
const (
	sessionIDCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	sessionIDLength  = 6
)

// GenerateID produces a random 6-character alphanumeric session ID.
// TECHNICAL DISCOVERY: crypto/rand rather than math/rand because the ID
// is the only credential needed to address a session.
func GenerateID() (string, error) {
	buf := make([]byte, sessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	id := make([]byte, sessionIDLength)
	for i, b := range buf {
		id[i] = sessionIDCharset[int(b)%len(sessionIDCharset)]
	}
	return string(id), nil
}
