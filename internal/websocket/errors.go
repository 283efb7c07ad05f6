package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidJSON      = errors.New("invalid JSON data")
	ErrWriteTimeout     = errors.New("write timeout after 5 seconds")
)

// Registry-related errors
var (
	ErrNilConnection   = errors.New("connection cannot be nil")
	ErrNotRegistered   = errors.New("connection is not registered")
	ErrNotAuthenticated = errors.New("connection is not authenticated")
)
