package router

import "errors"

// Router-specific error types surfaced as generic error replies at the
// dispatch boundary.
var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrNotAuthenticated   = errors.New("connection is not authenticated")
	ErrSessionMismatch    = errors.New("message session does not match connection binding")
	ErrClientMismatch     = errors.New("message client does not match connection binding")
	ErrSessionFull        = errors.New("session has reached its client limit")
	ErrMalformedPayload   = errors.New("malformed message payload")
)
