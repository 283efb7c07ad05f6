package interfaces

import (
	"context"
	"time"

	"syncdeck/pkg/types"
)

// SessionStore is the persistence boundary for session rows.
// ARCHITECTURAL DISCOVERY: Every write is a whole-row upsert keyed by
// the session ID, so no multi-step transaction manager is needed and
// the store interface stays a flat set of row operations.
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.Session) error
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	UpdateSession(ctx context.Context, session *types.Session) error
	DeleteSession(ctx context.Context, sessionID string) error
	// CleanupSessions removes every session whose lastActiveAt is
	// before the cutoff, returning the number of rows deleted.
	CleanupSessions(ctx context.Context, cutoff time.Time) (int, error)
}

// InviteStore is the persistence boundary for invite code rows.
type InviteStore interface {
	CreateInviteCode(ctx context.Context, code *types.InviteCode) error
	GetInviteCode(ctx context.Context, code string) (*types.InviteCode, error)
	MarkInviteCodeUsed(ctx context.Context, code, usedBy string, usedAt time.Time) error
	DeleteInviteCode(ctx context.Context, code string) error
	// CleanupInviteCodes removes every code expiring before the cutoff
	// regardless of use, returning the number of rows deleted.
	CleanupInviteCodes(ctx context.Context, cutoff time.Time) (int, error)
}

// Store combines both persistence boundaries plus operational hooks
// used by the health surface and shutdown path.
type Store interface {
	SessionStore
	InviteStore
	HealthCheck(ctx context.Context) error
	Close() error
}
