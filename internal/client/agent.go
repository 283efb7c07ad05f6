package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "client")

// ConnState is the agent's connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthenticated
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a reconnection agent.
type Config struct {
	URL      string
	Identity Identity

	IdentityStore IdentityStore
	HintStore     SessionHintStore

	HeartbeatInterval time.Duration
	AckTimeout        time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration

	Dialer *websocket.Dialer

	// OnStateChange fires on every lifecycle transition.
	OnStateChange func(state ConnState)
	// OnSnapshot fires for each session_state push (post-auth and resync).
	OnSnapshot func(snapshot *types.SessionSnapshot)
	// OnMessage fires for every other server message the agent does not
	// consume itself (state_update, client_joined, experiment_action...).
	OnMessage func(msgType string, data json.RawMessage)
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = time.Second
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = 30 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if c.IdentityStore == nil {
		c.IdentityStore = NewMemoryIdentityStore()
	}
	if c.HintStore == nil {
		c.HintStore = NewMemorySessionHintStore()
	}
}

// inbound mirrors the server's outbound envelope.
type inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// outbound is the agent-to-server envelope.
type outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Agent maintains one authenticated connection to the sync server,
// reconnecting with backoff, persisting identity across restarts, and
// replaying offline updates after authentication.
// ARCHITECTURAL DISCOVERY: The agent owns exactly one socket at a time;
// the server's eviction policy handles the overlap when a replacement
// connects before the old socket is noticed dead.
type Agent struct {
	cfg   Config
	queue *OfflineQueue

	mu    sync.Mutex
	state ConnState
	conn  *websocket.Conn

	// gorilla permits one concurrent writer per socket
	writeMu sync.Mutex

	// single in-flight state_update; acks carry no correlation id
	sendMu  sync.Mutex
	pending chan bool

	// server clock offset in ms, captured once per connection
	clockOffset   int64
	clockCaptured bool
}

// NewAgent creates an agent; Run starts it.
func NewAgent(cfg Config) *Agent {
	cfg.applyDefaults()
	return &Agent{
		cfg:   cfg,
		queue: NewOfflineQueue(),
		state: StateDisconnected,
	}
}

// State returns the current lifecycle state.
func (a *Agent) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Queue exposes the offline queue, mainly for tests and diagnostics.
func (a *Agent) Queue() *OfflineQueue {
	return a.queue
}

// ServerClockOffset returns the ms offset between server and local
// clocks, read from the first heartbeat ack of the current connection.
func (a *Agent) ServerClockOffset() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clockOffset
}

// Run connects and keeps reconnecting until the context is cancelled or
// the server clears the agent's identity. Blocking.
func (a *Agent) Run(ctx context.Context) error {
	backoff := a.cfg.ReconnectMin

	for {
		if err := ctx.Err(); err != nil {
			a.setState(StateDisconnected)
			return err
		}

		err := a.runOnce(ctx)
		a.setState(StateDisconnected)

		if err == ErrIdentityCleared {
			// FUNCTIONAL DISCOVERY: A cleared identity means the session
			// will never come back; reconnecting would loop forever
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.WithError(err).WithField("backoff", backoff).Info("connection lost, reconnecting")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > a.cfg.ReconnectMax {
			backoff = a.cfg.ReconnectMax
		}
	}
}

// runOnce performs one full connect/auth/read cycle.
func (a *Agent) runOnce(ctx context.Context) error {
	a.setState(StateConnecting)

	conn, _, err := a.cfg.Dialer.DialContext(ctx, a.cfg.URL, nil)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.conn = conn
	a.clockCaptured = false
	a.mu.Unlock()
	defer func() {
		conn.Close()
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
	}()

	a.setState(StateConnected)

	identity, err := a.resolveIdentity()
	if err != nil {
		return err
	}

	a.setState(StateAuthenticating)
	if err := a.send(&outbound{
		Type: types.MessageTypeAuth,
		Data: types.AuthPayload{
			SessionID: identity.SessionID,
			ClientID:  identity.ClientID,
			Role:      identity.Role,
		},
	}); err != nil {
		return err
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	return a.readLoop(connCtx, cancel, identity)
}

// resolveIdentity prefers the stored identity over the configured one,
// so a restart resumes the previous session.
func (a *Agent) resolveIdentity() (*Identity, error) {
	stored, err := a.cfg.IdentityStore.Load()
	if err != nil {
		return nil, err
	}
	if stored != nil {
		return stored, nil
	}

	identity := a.cfg.Identity
	if err := a.cfg.IdentityStore.Save(&identity); err != nil {
		return nil, err
	}
	if err := a.cfg.HintStore.Save(identity.SessionID); err != nil {
		log.WithError(err).Debug("failed to save session hint")
	}
	return &identity, nil
}

// readLoop consumes server messages until the socket fails.
func (a *Agent) readLoop(ctx context.Context, cancel context.CancelFunc, identity *Identity) error {
	for {
		_, data, err := a.currentConn().ReadMessage()
		if err != nil {
			return err
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			log.WithError(err).Debug("discarding unparseable server frame")
			continue
		}

		switch msg.Type {
		case types.MessageTypeAuthSuccess:
			var payload types.AuthSuccessPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				return err
			}
			log.WithField("isReconnect", payload.IsReconnect).Info("authenticated")
			a.setState(StateAuthenticated)

			go a.heartbeatLoop(ctx, identity.ClientID)
			go a.drainQueue(identity)

		case types.MessageTypeAuthError:
			var payload types.AuthErrorPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				return err
			}
			if payload.ClearIdentity {
				log.WithField("code", payload.Code).Warn("server cleared identity")
				if err := a.cfg.IdentityStore.Clear(); err != nil {
					log.WithError(err).Warn("failed to clear identity store")
				}
				if err := a.cfg.HintStore.Clear(); err != nil {
					log.WithError(err).Warn("failed to clear session hint")
				}
				cancel()
				return ErrIdentityCleared
			}
			log.WithField("code", payload.Code).Warn("authentication rejected")

		case types.MessageTypeHeartbeatAck:
			a.captureClock(msg)

		case types.MessageTypeStateUpdateAck:
			a.resolvePending(true)

		case types.MessageTypeSessionState:
			var snapshot types.SessionSnapshot
			if err := json.Unmarshal(msg.Data, &snapshot); err != nil {
				log.WithError(err).Warn("bad session snapshot")
				continue
			}
			if a.cfg.OnSnapshot != nil {
				a.cfg.OnSnapshot(&snapshot)
			}

		case types.MessageTypeError:
			var payload types.ErrorPayload
			_ = json.Unmarshal(msg.Data, &payload)
			log.WithField("code", payload.Code).Warn("server error")
			// An error while an update waits for its ack counts as a
			// failed send; the drain halts rather than advancing
			a.resolvePending(false)
			if a.cfg.OnMessage != nil {
				a.cfg.OnMessage(msg.Type, msg.Data)
			}

		default:
			if a.cfg.OnMessage != nil {
				a.cfg.OnMessage(msg.Type, msg.Data)
			}
		}
	}
}

// captureClock reads serverTime from the first heartbeat ack after
// connect. One-shot per connection: later acks never re-adjust, so the
// offset cannot drift with network jitter.
func (a *Agent) captureClock(msg inbound) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.clockCaptured {
		return
	}

	var payload types.HeartbeatAckPayload
	if err := json.Unmarshal(msg.Data, &payload); err != nil {
		return
	}
	a.clockOffset = payload.ServerTime - types.NowMillis()
	a.clockCaptured = true
}

// heartbeatLoop sends application-level heartbeats while authenticated.
func (a *Agent) heartbeatLoop(ctx context.Context, clientID string) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	// Immediate first beat doubles as the clock-sync probe
	a.sendHeartbeat(clientID)

	for {
		select {
		case <-ticker.C:
			a.sendHeartbeat(clientID)
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) sendHeartbeat(clientID string) {
	if err := a.send(&outbound{
		Type: types.MessageTypeHeartbeat,
		Data: types.HeartbeatPayload{ClientID: clientID},
	}); err != nil {
		log.WithError(err).Debug("heartbeat send failed")
	}
}

// SendStateUpdate delivers a state update, or queues it while offline.
// updateType is the dedupe key for offline coalescing, typically the
// top-level state key being written.
func (a *Agent) SendStateUpdate(updateType string, state map[string]interface{}) error {
	if a.State() != StateAuthenticated {
		a.queue.Enqueue(updateType, state)
		return nil
	}

	identity, err := a.cfg.IdentityStore.Load()
	if err != nil || identity == nil {
		a.queue.Enqueue(updateType, state)
		return ErrNotAuthenticated
	}

	if err := a.sendUpdateAwaitAck(identity, state); err != nil {
		a.queue.Enqueue(updateType, state)
		return err
	}
	return nil
}

// SendExperimentAction fans an action out to the room. Fire and forget:
// actions are stateless so there is nothing to queue or replay.
func (a *Agent) SendExperimentAction(action string, payload map[string]interface{}) error {
	if a.State() != StateAuthenticated {
		return ErrNotAuthenticated
	}
	identity, err := a.cfg.IdentityStore.Load()
	if err != nil || identity == nil {
		return ErrNotAuthenticated
	}
	return a.send(&outbound{
		Type: types.MessageTypeExperimentAction,
		Data: types.ExperimentActionPayload{
			SessionID: identity.SessionID,
			ClientID:  identity.ClientID,
			Action:    action,
			Payload:   payload,
		},
	})
}

// RequestSnapshot asks the server for a fresh session snapshot,
// delivered via OnSnapshot.
func (a *Agent) RequestSnapshot() error {
	if a.State() != StateAuthenticated {
		return ErrNotAuthenticated
	}
	identity, err := a.cfg.IdentityStore.Load()
	if err != nil || identity == nil {
		return ErrNotAuthenticated
	}
	return a.send(&outbound{
		Type: types.MessageTypeGetSessionState,
		Data: types.GetSessionStatePayload{SessionID: identity.SessionID},
	})
}

// drainQueue replays offline updates in timestamp order, waiting for
// each ack before advancing.
// FUNCTIONAL DISCOVERY: A failed send halts the drain and requeues the
// remainder; advancing past a failure would reorder writes the server
// merges per key.
func (a *Agent) drainQueue(identity *Identity) {
	entries := a.queue.DrainOrder()
	if len(entries) == 0 {
		return
	}
	log.WithField("queued", len(entries)).Info("draining offline queue")

	for i, entry := range entries {
		if err := a.sendUpdateAwaitAck(identity, entry.State); err != nil {
			log.WithError(err).Warn("offline drain halted")
			a.queue.Requeue(entries[i:])
			return
		}
	}
}

// sendUpdateAwaitAck sends one state_update and blocks for its ack.
// Serialized: acks carry no correlation id, so exactly one update is in
// flight at a time.
func (a *Agent) sendUpdateAwaitAck(identity *Identity, state map[string]interface{}) error {
	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	ackCh := make(chan bool, 1)
	a.mu.Lock()
	a.pending = ackCh
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
	}()

	if err := a.send(&outbound{
		Type: types.MessageTypeStateUpdate,
		Data: types.StateUpdatePayload{
			SessionID: identity.SessionID,
			ClientID:  identity.ClientID,
			State:     state,
		},
	}); err != nil {
		return err
	}

	select {
	case ok := <-ackCh:
		if !ok {
			return ErrDrainHalted
		}
		return nil
	case <-time.After(a.cfg.AckTimeout):
		return ErrAckTimeout
	}
}

func (a *Agent) resolvePending(ok bool) {
	a.mu.Lock()
	pending := a.pending
	a.mu.Unlock()
	if pending != nil {
		select {
		case pending <- ok:
		default:
		}
	}
}

func (a *Agent) send(msg *outbound) error {
	conn := a.currentConn()
	if conn == nil {
		return ErrAgentClosed
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (a *Agent) currentConn() *websocket.Conn {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn
}

func (a *Agent) setState(state ConnState) {
	a.mu.Lock()
	changed := a.state != state
	a.state = state
	a.mu.Unlock()

	if changed {
		log.WithField("state", state.String()).Debug("state transition")
		if a.cfg.OnStateChange != nil {
			a.cfg.OnStateChange(state)
		}
	}
}
