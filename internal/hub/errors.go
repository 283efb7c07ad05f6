package hub

import "errors"

// Hub lifecycle and backpressure error types
var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrFrameChannelFull  = errors.New("frame channel is full")
	ErrDetachChannelFull = errors.New("detach channel is full")
)
