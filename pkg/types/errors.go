package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidSessionID = errors.New("session ID must be exactly 6 alphanumeric characters")
	ErrInvalidClientID  = errors.New("client ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRole      = errors.New("invalid role: must be 'operator' or 'viewer'")
	ErrInvalidState     = errors.New("state must be a JSON object")
	ErrStateTooLarge    = errors.New("state payload exceeds 16KB limit")
	ErrInvalidAction    = errors.New("action must be 1-100 characters")
)
