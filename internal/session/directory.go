package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "session")

// maxIDAttempts bounds collision retries during session creation.
const maxIDAttempts = 5

// Directory is the authoritative owner of session metadata and the
// opaque state blob. Expiry is enforced twice: lazily on every read and
// by a periodic sweep for sessions nobody queries again.
type Directory struct {
	store      interfaces.SessionStore
	timeout    time.Duration
	maxClients int
}

// NewDirectory creates a session directory over the given store.
func NewDirectory(store interfaces.SessionStore, timeout time.Duration, maxClients int) *Directory {
	return &Directory{
		store:      store,
		timeout:    timeout,
		maxClients: maxClients,
	}
}

// Create generates a unique session ID and persists a fresh session.
// FUNCTIONAL DISCOVERY: Collision retry on the primary key insert
// covers the birthday-bound of the short 6-character ID space.
func (d *Directory) Create(ctx context.Context, creatorClientID string) (*types.Session, error) {
	if !types.IsValidClientID(creatorClientID) {
		return nil, ErrInvalidCreatedBy
	}

	now := time.Now()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := GenerateID()
		if err != nil {
			return nil, err
		}

		session := &types.Session{
			ID:           id,
			CreatedBy:    creatorClientID,
			CreatedAt:    now,
			UpdatedAt:    now,
			LastActiveAt: now,
			IsActive:     true,
			State:        map[string]interface{}{},
			MaxClients:   d.maxClients,
		}

		if err := d.store.CreateSession(ctx, session); err != nil {
			// TECHNICAL DISCOVERY: A duplicate primary key surfaces as a
			// constraint error; retry with a fresh ID rather than failing
			if isUniqueViolation(err) {
				log.WithField("sessionId", id).Warn("session ID collision, retrying")
				continue
			}
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		log.WithFields(logrus.Fields{"sessionId": id, "createdBy": creatorClientID}).Info("session created")
		return session, nil
	}

	return nil, ErrIDCollision
}

// Get returns a session, applying lazy expiry: a session idle past the
// timeout is deleted as a side effect and reported as not found.
func (d *Directory) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := d.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if time.Since(session.LastActiveAt) > d.timeout {
		// FUNCTIONAL DISCOVERY: Delete-on-read keeps expiry exact even
		// between sweeps; the sweep only bounds storage growth
		if err := d.store.DeleteSession(ctx, sessionID); err != nil {
			log.WithError(err).WithField("sessionId", sessionID).Warn("failed to delete expired session")
		}
		log.WithField("sessionId", sessionID).Info("session expired on read")
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Touch refreshes a session's activity timestamps.
func (d *Directory) Touch(ctx context.Context, sessionID string) error {
	session, err := d.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	now := time.Now()
	session.LastActiveAt = now
	session.UpdatedAt = now
	return d.store.UpdateSession(ctx, session)
}

// UpdateState shallow-merges a partial state object into the session's
// state blob and refreshes timestamps. Returns the merged session.
// FUNCTIONAL DISCOVERY: Last-write-wins per top-level key matches the
// client agent's offline queue dedupe, so replays converge.
func (d *Directory) UpdateState(ctx context.Context, sessionID string, partial map[string]interface{}) (*types.Session, error) {
	session, err := d.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.State == nil {
		session.State = map[string]interface{}{}
	}
	for key, value := range partial {
		session.State[key] = value
	}

	now := time.Now()
	session.UpdatedAt = now
	session.LastActiveAt = now

	if err := d.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to persist state update: %w", err)
	}
	return session, nil
}

// Delete removes a session; the store cascades to dependent invite codes.
func (d *Directory) Delete(ctx context.Context, sessionID string) error {
	if _, err := d.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := d.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	log.WithField("sessionId", sessionID).Info("session deleted")
	return nil
}

// CleanupExpired removes every session idle past the timeout in one
// range scan, independent of access-time lazy expiry.
func (d *Directory) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-d.timeout)
	deleted, err := d.store.CleanupSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session sweep failed: %w", err)
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("session sweep removed expired sessions")
	}
	return deleted, nil
}

// RunSweeper runs the periodic cleanup until the context is cancelled.
func (d *Directory) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := d.CleanupExpired(ctx); err != nil {
				log.WithError(err).Warn("session sweep error")
			}
		case <-ctx.Done():
			return
		}
	}
}

// Timeout exposes the configured inactivity timeout.
func (d *Directory) Timeout() time.Duration {
	return d.timeout
}

// isUniqueViolation detects a primary key collision without depending
// on the driver's error type surface.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
