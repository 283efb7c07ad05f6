package session

import "errors"

// Session directory error types
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionInactive  = errors.New("session is not active")
	ErrInvalidCreatedBy = errors.New("createdBy must be a valid client ID")
	ErrIDCollision      = errors.New("failed to generate unique session ID")
)
