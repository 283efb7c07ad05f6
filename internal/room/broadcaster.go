package room

import (
	"github.com/sirupsen/logrus"

	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "broadcast")

// Broadcaster performs targeted sends and room fan-out on top of the
// room registry and the connection resolver. Delivery is best effort
// and at most once per currently live connection: nothing is queued,
// retried, or persisted, and there is no cross-member ordering
// guarantee. An offline member resyncs via get_session_state.
type Broadcaster struct {
	rooms    *Registry
	resolver interfaces.ConnectionResolver
}

// BroadcastOptions narrows the fan-out target set.
type BroadcastOptions struct {
	ExcludeClientID string
	OnlyClientIDs   []string
}

// NewBroadcaster creates a broadcaster.
func NewBroadcaster(rooms *Registry, resolver interfaces.ConnectionResolver) *Broadcaster {
	return &Broadcaster{rooms: rooms, resolver: resolver}
}

// SendTo resolves a live socket for the client and writes one message.
// FUNCTIONAL DISCOVERY: Silence is the caller's problem - the
// broadcaster never queues or retries, so the caller decides what a
// missing connection means for its own protocol step.
func (b *Broadcaster) SendTo(clientID string, msg *types.Outbound) error {
	peer, ok := b.resolver.GetClientConnection(clientID)
	if !ok {
		return ErrClientNotConnected
	}

	stamp(msg)
	if err := peer.WriteEnvelope(msg); err != nil {
		log.WithError(err).WithField("clientId", clientID).Warn("targeted send failed")
		return err
	}
	return nil
}

// Broadcast fans a message out to a session's room, honoring exclusion
// and allow-list options, and reports delivery counts. Failures are
// logged and never retried server-side.
func (b *Broadcaster) Broadcast(sessionID string, msg *types.Outbound, opts *BroadcastOptions) types.BroadcastResult {
	stamp(msg)

	members := b.rooms.GetMembers(sessionID)
	result := types.BroadcastResult{}

	var only map[string]bool
	if opts != nil && len(opts.OnlyClientIDs) > 0 {
		only = make(map[string]bool, len(opts.OnlyClientIDs))
		for _, id := range opts.OnlyClientIDs {
			only[id] = true
		}
	}

	for _, member := range members {
		if opts != nil && opts.ExcludeClientID == member.ClientID {
			continue
		}
		if only != nil && !only[member.ClientID] {
			continue
		}

		result.Total++

		peer, ok := b.resolver.GetClientConnection(member.ClientID)
		if !ok {
			// Membership can outlive a socket briefly between close and
			// sweep; count it as a failed best-effort delivery
			result.Failed++
			continue
		}

		if err := peer.WriteEnvelope(msg); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"sessionId": sessionID,
				"clientId":  member.ClientID,
			}).Warn("broadcast delivery failed")
			result.Failed++
			continue
		}
		result.Sent++
	}

	return result
}

// stamp fills in the timestamp if the caller left it zero.
func stamp(msg *types.Outbound) {
	if msg.Timestamp == 0 {
		msg.Timestamp = types.NowMillis()
	}
}
