package hub

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"syncdeck/internal/websocket"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "hub")

// Dispatcher is the message-handling side the hub drives: one call per
// inbound frame and one per connection teardown.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *websocket.Connection, env *types.Envelope)
	HandleDisconnect(ctx context.Context, conn *websocket.Connection)
}

// Frame pairs an inbound envelope with the connection it arrived on.
type Frame struct {
	Conn *websocket.Connection
	Env  *types.Envelope
}

// Hub funnels every inbound frame and connection teardown through a
// single processing goroutine.
// ARCHITECTURAL DISCOVERY: One event loop serializes all room/session
// mutations, giving strict per-connection ordering and making the
// registries effectively single-writer without handler-level locking.
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channels absorb message bursts; the
	// read pumps block briefly rather than drop when the buffer fills
	frameChannel    chan *Frame
	detachChannel   chan *websocket.Connection
	shutdownChannel chan struct{}

	dispatcher Dispatcher

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub driving the given dispatcher.
func NewHub(dispatcher Dispatcher) *Hub {
	return &Hub{
		frameChannel:    make(chan *Frame, 1000),
		detachChannel:   make(chan *websocket.Connection, 100),
		shutdownChannel: make(chan struct{}),
		dispatcher:      dispatcher,
	}
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Info("starting hub")
	go h.run(ctx)
	return nil
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Info("stopping hub")

	// TECHNICAL DISCOVERY: Safe channel close using select to prevent panic
	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}

	return nil
}

// Submit queues one inbound frame for processing.
func (h *Hub) Submit(conn *websocket.Connection, env *types.Envelope) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.frameChannel <- &Frame{Conn: conn, Env: env}:
		return nil
	default:
		return ErrFrameChannelFull
	}
}

// Detach queues a connection teardown: room departure notice plus
// registry cleanup, processed on the event loop like any other
// transition so it cannot interleave with the connection's own frames.
func (h *Hub) Detach(conn *websocket.Connection) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	h.mu.RUnlock()

	select {
	case h.detachChannel <- conn:
		return nil
	default:
		return ErrDetachChannelFull
	}
}

// run is the single event-processing loop.
func (h *Hub) run(ctx context.Context) {
	defer log.Info("hub processing stopped")

	for {
		select {
		case frame := <-h.frameChannel:
			// FUNCTIONAL DISCOVERY: Dispatch isolates failures per message;
			// one malformed frame never affects other connections
			h.dispatcher.Dispatch(ctx, frame.Conn, frame.Env)

		case conn := <-h.detachChannel:
			h.dispatcher.HandleDisconnect(ctx, conn)

		case <-h.shutdownChannel:
			log.Info("hub shutdown requested")
			return

		case <-ctx.Done():
			log.Info("hub context cancelled")
			return
		}
	}
}
