package router

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sirupsen/logrus"

	"syncdeck/internal/room"
	"syncdeck/internal/session"
	"syncdeck/internal/websocket"
	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "router")

// Router validates inbound envelopes and dispatches them to handlers,
// replying to the sender and triggering room broadcasts.
// ARCHITECTURAL DISCOVERY: Pure routing logic; connection lifecycle
// stays in the registry and delivery mechanics in the broadcaster.
type Router struct {
	registry    *websocket.Registry
	rooms       *room.Registry
	broadcaster *room.Broadcaster
	directory   *session.Directory
	sink        interfaces.ActionSink // optional export collaborator
}

// NewRouter creates a message router. sink may be nil when no export
// pipeline is attached.
func NewRouter(registry *websocket.Registry, rooms *room.Registry, broadcaster *room.Broadcaster, directory *session.Directory, sink interfaces.ActionSink) *Router {
	return &Router{
		registry:    registry,
		rooms:       rooms,
		broadcaster: broadcaster,
		directory:   directory,
		sink:        sink,
	}
}

// Dispatch routes one inbound envelope. Every handler failure - error
// or panic - is converted to a generic error reply here at the
// boundary; the connection stays open and other connections are never
// affected.
func (r *Router) Dispatch(ctx context.Context, conn *websocket.Connection, env *types.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithFields(logrus.Fields{"type": env.Type, "panic": rec}).Error("handler panic recovered")
			r.replyError(conn, "internal_error", "message handling failed")
		}
	}()

	var err error
	// FUNCTIONAL DISCOVERY: Exhaustive switch over the closed type set;
	// an unknown type is an explicit dispatch error, not silence
	switch env.Type {
	case types.MessageTypeAuth:
		err = r.handleAuth(ctx, conn, env.Data)
	case types.MessageTypeHeartbeat:
		err = r.handleHeartbeat(ctx, conn, env.Data)
	case types.MessageTypeStateUpdate:
		err = r.handleStateUpdate(ctx, conn, env.Data)
	case types.MessageTypeExperimentAction:
		err = r.handleExperimentAction(ctx, conn, env.Data)
	case types.MessageTypeGetSessionState:
		err = r.handleGetSessionState(ctx, conn, env.Data)
	case types.MessageTypePing:
		err = r.handlePing(conn)
	default:
		err = ErrUnknownMessageType
	}

	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"type":     env.Type,
			"clientId": conn.ClientID(),
		}).Warn("message handling failed")
		r.replyError(conn, errorCode(err), err.Error())
	}
}

// HandleDisconnect processes a connection teardown: the registry drops
// the binding, and if this socket still owned its client identity the
// room is notified. An evicted socket never owns its identity by the
// time it detaches, so eviction produces no client_left notice.
func (r *Router) HandleDisconnect(ctx context.Context, conn *websocket.Connection) {
	clientID := conn.ClientID()
	sessionID := conn.SessionID()
	role := conn.Role()

	wasBound := r.registry.Unregister(conn)
	if !wasBound {
		return
	}

	r.broadcaster.Broadcast(sessionID, &types.Outbound{
		Type: types.MessageTypeClientLeft,
		Data: types.ClientEventPayload{SessionID: sessionID, ClientID: clientID, Role: role},
	}, &room.BroadcastOptions{ExcludeClientID: clientID})

	log.WithFields(logrus.Fields{"clientId": clientID, "sessionId": sessionID}).Info("client left")
}

// handleAuth validates the session, authenticates the connection with
// reconnect eviction, joins the room, replies auth_success, notifies
// the room, and pushes a state snapshot to the caller only.
func (r *Router) handleAuth(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var payload types.AuthPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrMalformedPayload
	}
	if err := payload.Validate(); err != nil {
		return err
	}

	sess, err := r.directory.Get(ctx, payload.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// FUNCTIONAL DISCOVERY: Distinguished clear-identity signal,
			// not a generic error, so clients stop retrying a session
			// that will never return
			r.replyAuthError(conn, "session_not_found", "session does not exist or has expired", true)
			return nil
		}
		return err
	}
	if !sess.IsActive {
		r.replyAuthError(conn, "session_inactive", "session is no longer active", true)
		return nil
	}

	// Capacity check before binding. A client that is already a member,
	// or whose old socket is about to be evicted, always has a seat.
	_, alreadyMember := r.rooms.GetMember(payload.SessionID, payload.ClientID)
	_, hasOldSocket := r.registry.GetClientConnection(payload.ClientID)
	if !alreadyMember && !hasOldSocket {
		if sess.MaxClients > 0 && len(r.rooms.GetMembers(payload.SessionID)) >= sess.MaxClients {
			r.replyAuthError(conn, "session_full", "session has reached its client limit", false)
			return nil
		}
	}

	isReconnect, err := r.registry.Authenticate(conn, payload.ClientID, payload.SessionID, payload.Role)
	if err != nil {
		return err
	}

	if err := r.rooms.Join(payload.SessionID, payload.ClientID, payload.Role, sess.MaxClients); err != nil {
		return err
	}

	// The heartbeat sweep can observe the connection in the instant it is
	// authenticated but not yet in the room and evict it as orphaned. When
	// that happens the socket is already closed and its unregister ran
	// before this join, so take back the room entry the sweep could not
	// see and stop.
	if !r.registry.IsBound(conn) {
		r.rooms.Leave(payload.SessionID, payload.ClientID)
		log.WithFields(logrus.Fields{
			"clientId":  payload.ClientID,
			"sessionId": payload.SessionID,
		}).Debug("connection evicted during auth, join rolled back")
		return nil
	}

	if err := r.directory.Touch(ctx, payload.SessionID); err != nil {
		log.WithError(err).WithField("sessionId", payload.SessionID).Warn("failed to touch session on auth")
	}

	if err := conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeAuthSuccess,
		Data: types.AuthSuccessPayload{
			SessionID:   payload.SessionID,
			ClientID:    payload.ClientID,
			IsReconnect: isReconnect,
		},
	}); err != nil {
		return err
	}

	// FUNCTIONAL DISCOVERY: Exactly one of the two notices goes out per
	// auth - client_reconnected for the eviction case, client_joined for
	// a first join
	noticeType := types.MessageTypeClientJoined
	if isReconnect {
		noticeType = types.MessageTypeClientReconnected
	}
	r.broadcaster.Broadcast(payload.SessionID, &types.Outbound{
		Type: noticeType,
		Data: types.ClientEventPayload{
			SessionID: payload.SessionID,
			ClientID:  payload.ClientID,
			Role:      payload.Role,
		},
	}, &room.BroadcastOptions{ExcludeClientID: payload.ClientID})

	// Fresh snapshot to the caller only; the room already has its state
	return conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeSessionState,
		Data: r.snapshot(sess),
	})
}

// handleHeartbeat refreshes liveness and answers with the server clock.
func (r *Router) handleHeartbeat(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	if !conn.IsAuthenticated() {
		return ErrNotAuthenticated
	}

	var payload types.HeartbeatPayload
	if len(data) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			return ErrMalformedPayload
		}
	}
	if payload.ClientID != "" && payload.ClientID != conn.ClientID() {
		return ErrClientMismatch
	}

	conn.TouchHeartbeat()

	if err := r.directory.Touch(ctx, conn.SessionID()); err != nil {
		// A heartbeat against an expired session is not an error worth a
		// reply; the next auth or sweep settles it
		log.WithError(err).WithField("sessionId", conn.SessionID()).Debug("heartbeat touch failed")
	}

	return conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeHeartbeatAck,
		Data: types.HeartbeatAckPayload{ServerTime: types.NowMillis()},
	})
}

// handleStateUpdate merges a partial state into the directory, fans the
// delta out to the room excluding the sender, and acks the sender.
func (r *Router) handleStateUpdate(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var payload types.StateUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrMalformedPayload
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	if err := r.requireMembership(conn, payload.SessionID, payload.ClientID); err != nil {
		return err
	}

	if _, err := r.directory.UpdateState(ctx, payload.SessionID, payload.State); err != nil {
		return err
	}

	// No echo: the sender already applied its own update optimistically
	r.broadcaster.Broadcast(payload.SessionID, &types.Outbound{
		Type: types.MessageTypeStateUpdate,
		Data: payload,
	}, &room.BroadcastOptions{ExcludeClientID: payload.ClientID})

	return conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeStateUpdateAck,
		Data: types.StateUpdateAckPayload{SessionID: payload.SessionID},
	})
}

// handleExperimentAction is stateless fan-out: nothing is persisted in
// the sync core, the event is mirrored to the room and forwarded to the
// export collaborator.
func (r *Router) handleExperimentAction(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var payload types.ExperimentActionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrMalformedPayload
	}
	if err := payload.Validate(); err != nil {
		return err
	}
	if err := r.requireMembership(conn, payload.SessionID, payload.ClientID); err != nil {
		return err
	}

	r.broadcaster.Broadcast(payload.SessionID, &types.Outbound{
		Type: types.MessageTypeExperimentAction,
		Data: payload,
	}, &room.BroadcastOptions{ExcludeClientID: payload.ClientID})

	if r.sink != nil {
		event := &types.ExperimentEvent{
			SessionID: payload.SessionID,
			ClientID:  payload.ClientID,
			Action:    payload.Action,
			Payload:   payload.Payload,
		}
		// FUNCTIONAL DISCOVERY: Sink failures never affect room delivery
		if err := r.sink.RecordAction(ctx, event); err != nil {
			log.WithError(err).Warn("action sink rejected event")
		}
	}

	return nil
}

// handleGetSessionState is the pull-based resync path; the reply shares
// the exact snapshot shape of the post-auth push.
func (r *Router) handleGetSessionState(ctx context.Context, conn *websocket.Connection, data json.RawMessage) error {
	var payload types.GetSessionStatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ErrMalformedPayload
	}
	if !conn.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if payload.SessionID != conn.SessionID() {
		return ErrSessionMismatch
	}

	sess, err := r.directory.Get(ctx, payload.SessionID)
	if err != nil {
		return err
	}

	return conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeSessionState,
		Data: r.snapshot(sess),
	})
}

// handlePing answers application-level pings, independent of the
// transport ping/pong used by the heartbeat sweep.
func (r *Router) handlePing(conn *websocket.Connection) error {
	return conn.WriteEnvelope(&types.Outbound{Type: types.MessageTypePong})
}

// requireMembership checks the connection is authenticated and that the
// payload identities match its binding.
func (r *Router) requireMembership(conn *websocket.Connection, sessionID, clientID string) error {
	if !conn.IsAuthenticated() {
		return ErrNotAuthenticated
	}
	if conn.SessionID() != sessionID {
		return ErrSessionMismatch
	}
	if conn.ClientID() != clientID {
		return ErrClientMismatch
	}
	return nil
}

// snapshot assembles the shared session_state payload.
func (r *Router) snapshot(sess *types.Session) types.SessionSnapshot {
	return types.SessionSnapshot{
		SessionID:  sess.ID,
		State:      sess.State,
		Members:    r.rooms.GetMembers(sess.ID),
		MaxClients: sess.MaxClients,
		ServerTime: types.NowMillis(),
	}
}

func (r *Router) replyError(conn *websocket.Connection, code, message string) {
	if err := conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeError,
		Data: types.ErrorPayload{Code: code, Message: message},
	}); err != nil {
		log.WithError(err).Debug("failed to send error reply")
	}
}

func (r *Router) replyAuthError(conn *websocket.Connection, code, message string, clearIdentity bool) {
	if err := conn.WriteEnvelope(&types.Outbound{
		Type: types.MessageTypeAuthError,
		Data: types.AuthErrorPayload{Code: code, Message: message, ClearIdentity: clearIdentity},
	}); err != nil {
		log.WithError(err).Debug("failed to send auth error reply")
	}
}

// errorCode maps well-known handler errors to stable reply codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrUnknownMessageType):
		return "unknown_type"
	case errors.Is(err, ErrNotAuthenticated):
		return "not_authenticated"
	case errors.Is(err, ErrSessionMismatch), errors.Is(err, ErrClientMismatch):
		return "membership_mismatch"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, session.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, types.ErrInvalidSessionID),
		errors.Is(err, types.ErrInvalidClientID),
		errors.Is(err, types.ErrInvalidRole),
		errors.Is(err, types.ErrInvalidState),
		errors.Is(err, types.ErrStateTooLarge),
		errors.Is(err, types.ErrInvalidAction):
		return "validation_failed"
	default:
		return "internal_error"
	}
}
