package invite

import "errors"

// Invite code error types. Used codes deliberately answer with
// ErrCodeNotFound so callers can never distinguish used from missing.
var (
	ErrInvalidFormat  = errors.New("invite code must be exactly 6 digits")
	ErrBadChecksum    = errors.New("invite code checksum mismatch")
	ErrCodeNotFound   = errors.New("invite code not found")
	ErrCodeExpired    = errors.New("invite code expired")
	ErrCodeCollision  = errors.New("failed to generate unique invite code")
	ErrSessionUnknown = errors.New("invite code session no longer exists")
)
