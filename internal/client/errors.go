package client

import "errors"

// Agent-side error types
var (
	ErrAgentClosed      = errors.New("agent is closed")
	ErrNotAuthenticated = errors.New("agent is not authenticated")
	ErrIdentityCleared  = errors.New("server signalled identity is no longer valid")
	ErrAckTimeout       = errors.New("timed out waiting for server ack")
	ErrDrainHalted      = errors.New("offline queue drain halted on failed send")
)
