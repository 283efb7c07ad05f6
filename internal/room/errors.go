package room

import "errors"

// Room membership and delivery error types
var (
	ErrRoomFull           = errors.New("room has reached its client limit")
	ErrClientNotConnected = errors.New("client has no live connection")
)
