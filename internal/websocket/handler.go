package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"syncdeck/pkg/types"
)

// Coordinator is the hub surface the transport needs: frame submission
// and connection teardown. Declared here so the transport package does
// not import the hub that imports it back.
type Coordinator interface {
	Submit(conn *Connection, env *types.Envelope) error
	Detach(conn *Connection) error
}

// WebSocket upgrader with production-ready settings
// ARCHITECTURAL DISCOVERY: Separate upgrader configuration enables reuse
// and consistent settings across handler instances
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The operator panel and viewer dashboards are served from
		// arbitrary origins during experiments
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to persistent sockets and feeds their
// frames to the hub. Authentication happens in-band via the auth
// message, not at upgrade time, so a reloading tab can reuse its URL.
type Handler struct {
	registry    *Registry
	coordinator Coordinator
	readLimit   int64
	readTimeout time.Duration
}

// NewHandler creates a WebSocket handler.
func NewHandler(registry *Registry, coordinator Coordinator, readLimit int64, readTimeout time.Duration) *Handler {
	return &Handler{
		registry:    registry,
		coordinator: coordinator,
		readLimit:   readLimit,
		readTimeout: readTimeout,
	}
}

// HandleWebSocket handles WebSocket connection requests.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	// FUNCTIONAL DISCOVERY: Oversized frames are rejected at the
	// transport layer; gorilla closes the connection on violation
	conn.SetReadLimit(h.readLimit)

	wsConn := NewConnection(uuid.New().String(), conn)

	if err := h.registry.Register(wsConn); err != nil {
		log.WithError(err).Warn("failed to register connection")
		_ = wsConn.Close()
		return
	}

	log.WithField("connId", wsConn.ID()).Debug("connection established")

	go h.readPump(wsConn)
}

// readPump reads frames until the socket dies, enforcing per-message
// rate limiting before anything reaches the hub.
// ARCHITECTURAL DISCOVERY: One goroutine per connection for reads; the
// heartbeat sweep owns liveness, the read deadline + pong handler only
// keep the TCP side honest.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		// Teardown goes through the hub so the departure notice cannot
		// interleave with the connection's own in-flight frames
		if err := h.coordinator.Detach(conn); err != nil {
			h.registry.Unregister(conn)
		}
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
		log.WithError(err).Debug("failed to set read deadline")
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		conn.TouchHeartbeat()
		return conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("connId", conn.ID()).Debug("websocket read error")
			}
			return
		}

		if messageType != websocket.TextMessage {
			// JSON text frames only; binary frames are a protocol error
			continue
		}

		if err := conn.conn.SetReadDeadline(time.Now().Add(h.readTimeout)); err != nil {
			return
		}

		decision := h.registry.AllowMessage(conn)
		if !decision.Allowed {
			log.WithFields(logrus.Fields{
				"connId":     conn.ID(),
				"violations": decision.Violations,
			}).Warn("rate limit exceeded")

			h.sendRateLimitError(conn)

			// FUNCTIONAL DISCOVERY: Past the violation threshold the
			// connection is terminated rather than degraded silently
			if decision.ThresholdHit {
				_ = conn.CloseWithReason("rate limit exceeded")
				return
			}
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.sendProtocolError(conn, "malformed_frame", "frame is not a valid message envelope")
			continue
		}

		if err := h.coordinator.Submit(conn, &env); err != nil {
			// Hub backpressure: drop the frame with an error reply rather
			// than block the read side of every other connection
			h.sendProtocolError(conn, "server_busy", "message queue is full")
		}
	}
}

func (h *Handler) sendRateLimitError(conn *Connection) {
	if err := conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeError,
		Data: types.ErrorPayload{Code: "rate_limited", Message: "too many messages"},
	}); err != nil {
		log.WithError(err).Debug("failed to send rate limit error")
	}
}

func (h *Handler) sendProtocolError(conn *Connection, code, message string) {
	if err := conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeError,
		Data: types.ErrorPayload{Code: code, Message: message},
	}); err != nil {
		log.WithError(err).Debug("failed to send protocol error")
	}
}
