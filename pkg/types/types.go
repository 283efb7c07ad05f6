package types

import (
	"encoding/json"
	"time"
)

// Inbound message types accepted from clients.
// ARCHITECTURAL DISCOVERY: Closed message-type set with explicit constants
// makes new message types compile-time additions rather than silently
// ignored unknown keys in the router's dispatch switch.
const (
	MessageTypeAuth             = "auth"
	MessageTypeHeartbeat        = "heartbeat"
	MessageTypeStateUpdate      = "state_update"
	MessageTypeExperimentAction = "experiment_action"
	MessageTypeGetSessionState  = "get_session_state"
	MessageTypePing             = "ping"
)

// Outbound message types sent to clients.
const (
	MessageTypeAuthSuccess       = "auth_success"
	MessageTypeAuthError         = "auth_error"
	MessageTypeHeartbeatAck      = "heartbeat_ack"
	MessageTypeStateUpdateAck    = "state_update_ack"
	MessageTypeSessionState      = "session_state"
	MessageTypeClientJoined      = "client_joined"
	MessageTypeClientReconnected = "client_reconnected"
	MessageTypeClientLeft        = "client_left"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// Client roles. The operator drives the device panel, viewers watch
// dashboards mirroring the same session state.
const (
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Envelope is the inbound wire format: {type, data}.
// FUNCTIONAL DISCOVERY: Data kept as raw JSON so each handler decodes
// only its own payload shape and malformed payloads fail per-message.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is the outbound wire format: {type, data, timestamp}.
// Timestamp is epoch milliseconds, stamped at send time if zero.
type Outbound struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Session is the persisted shared context: a small opaque JSON state
// blob plus lifecycle timestamps driving lazy + swept expiry.
type Session struct {
	ID           string                 `json:"id"`
	CreatedBy    string                 `json:"createdBy"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
	LastActiveAt time.Time              `json:"lastActiveAt"`
	IsActive     bool                   `json:"isActive"`
	State        map[string]interface{} `json:"state"`
	MaxClients   int                    `json:"maxClients"`
}

// InviteCode is a short-lived, single-use, checksum-protected join code
// bound to a session.
type InviteCode struct {
	Code      string     `json:"code"`
	SessionID string     `json:"sessionId"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Used      bool       `json:"used"`
	UsedBy    *string    `json:"usedBy,omitempty"`
	UsedAt    *time.Time `json:"usedAt,omitempty"`
}

// Member is one entry of a room's ephemeral membership view.
type Member struct {
	ClientID string    `json:"clientId"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// SessionSnapshot is the state push sent after auth and on
// get_session_state. Both paths share this exact shape so a pull-based
// resync is indistinguishable from the post-auth push.
type SessionSnapshot struct {
	SessionID  string                 `json:"sessionId"`
	State      map[string]interface{} `json:"state"`
	Members    []Member               `json:"members"`
	MaxClients int                    `json:"maxClients"`
	ServerTime int64                  `json:"serverTime"`
}

// ExperimentEvent is a stateless experiment_action fanned out to the
// room and forwarded to the export collaborator.
type ExperimentEvent struct {
	SessionID string                 `json:"sessionId"`
	ClientID  string                 `json:"clientId"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// AuthPayload is the data of an inbound auth message.
type AuthPayload struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
	Role      string `json:"role"`
}

// AuthSuccessPayload acknowledges a successful auth. IsReconnect
// signals that an older socket sharing the clientId was evicted.
type AuthSuccessPayload struct {
	SessionID   string `json:"sessionId"`
	ClientID    string `json:"clientId"`
	IsReconnect bool   `json:"isReconnect"`
}

// AuthErrorPayload is the distinguished auth rejection. ClearIdentity
// tells the client to discard cached identity and stop retrying a
// session that will never return.
type AuthErrorPayload struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	ClearIdentity bool   `json:"clearIdentity"`
}

// HeartbeatPayload is the data of an inbound heartbeat message.
type HeartbeatPayload struct {
	ClientID string `json:"clientId"`
}

// HeartbeatAckPayload carries the server clock. ServerTime doubles as a
// one-shot clock-sync vehicle read once at connect, not recalculated
// by clients on every beat.
type HeartbeatAckPayload struct {
	ServerTime int64 `json:"serverTime"`
}

// StateUpdatePayload is the data of an inbound state_update message.
// State is a partial object merged into the session's state blob.
type StateUpdatePayload struct {
	SessionID string                 `json:"sessionId"`
	ClientID  string                 `json:"clientId"`
	State     map[string]interface{} `json:"state"`
}

// ExperimentActionPayload is the data of an inbound experiment_action.
type ExperimentActionPayload struct {
	SessionID string                 `json:"sessionId"`
	ClientID  string                 `json:"clientId"`
	Action    string                 `json:"action"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// GetSessionStatePayload is the data of an inbound get_session_state.
type GetSessionStatePayload struct {
	SessionID string `json:"sessionId"`
}

// StateUpdateAckPayload is the data of a state_update_ack reply. Acks
// carry no correlation id; senders keep one update in flight.
type StateUpdateAckPayload struct {
	SessionID string `json:"sessionId"`
}

// ClientEventPayload is the data of client_joined / client_reconnected
// / client_left room notices.
type ClientEventPayload struct {
	SessionID string `json:"sessionId"`
	ClientID  string `json:"clientId"`
	Role      string `json:"role"`
}

// ErrorPayload is the generic error reply produced at the dispatch
// boundary for failing or malformed messages.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BroadcastResult reports best-effort fan-out delivery counts.
type BroadcastResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// RateDecision is the outcome of one token-bucket consumption attempt.
// ThresholdHit is a signal for the caller to disconnect, not an
// automatic action taken by the limiter itself.
type RateDecision struct {
	Allowed      bool
	Violations   int
	ThresholdHit bool
}

// NowMillis returns the current time as epoch milliseconds, the unit
// used for every timestamp on the wire.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
