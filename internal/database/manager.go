package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	dbconfig "syncdeck/pkg/database"
	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "database")

// Manager implements the interfaces.Store contract over SQLite
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new database manager
func NewManager(config *dbconfig.Config) (*Manager, error) {
	// ARCHITECTURAL DISCOVERY: SQLite connection string carries the busy
	// timeout, WAL mode and foreign keys so every pooled connection behaves
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after a short backoff;
			// the session/invite rows are whole-row upserts so a repeat is safe.
			// Row-contract outcomes (not found, already used, duplicate
			// key) are answers, not failures, and are never retried.
			err := op.operation(m.db)
			if err != nil && !isRowContractError(err) {
				log.WithError(err).Warn("database write failed, retrying in 5 seconds")
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.WithError(err).Error("database write failed after retry")
				}
			}
			op.result <- err

		case <-m.shutdown:
			log.Info("database write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return fmt.Errorf("database manager is closed")
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return fmt.Errorf("database manager is shutting down")
	}
}

// CreateSession inserts a new session row
func (m *Manager) CreateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		// TECHNICAL DISCOVERY: JSON serialization for the state blob keeps
		// the schema stable while the UI evolves its state shape
		stateJSON, err := json.Marshal(session.State)
		if err != nil {
			return fmt.Errorf("failed to marshal session state: %w", err)
		}

		query := `
			INSERT INTO sessions (id, created_by, created_at, updated_at, last_active_at, is_active, state, max_clients)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err = db.ExecContext(ctx, query,
			session.ID,
			session.CreatedBy,
			session.CreatedAt,
			session.UpdatedAt,
			session.LastActiveAt,
			session.IsActive,
			string(stateJSON),
			session.MaxClients,
		)
		if err != nil {
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	query := `
		SELECT id, created_by, created_at, updated_at, last_active_at, is_active, state, max_clients
		FROM sessions
		WHERE id = ?
	`

	row := m.db.QueryRowContext(ctx, query, sessionID)
	return scanSession(row)
}

// UpdateSession rewrites a session row in full
// FUNCTIONAL DISCOVERY: Whole-row update keyed by the primary key keeps
// every write a single statement, matching the no-transaction contract
func (m *Manager) UpdateSession(ctx context.Context, session *types.Session) error {
	return m.executeWrite(func(db *sql.DB) error {
		stateJSON, err := json.Marshal(session.State)
		if err != nil {
			return fmt.Errorf("failed to marshal session state: %w", err)
		}

		query := `
			UPDATE sessions
			SET created_by = ?, updated_at = ?, last_active_at = ?, is_active = ?, state = ?, max_clients = ?
			WHERE id = ?
		`
		_, err = db.ExecContext(ctx, query,
			session.CreatedBy,
			session.UpdatedAt,
			session.LastActiveAt,
			session.IsActive,
			string(stateJSON),
			session.MaxClients,
			session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		return nil
	})
}

// DeleteSession removes a session row; invite codes go with it via the
// ON DELETE CASCADE foreign key
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", sessionID)
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
		return nil
	})
}

// CleanupSessions removes sessions idle since before the cutoff
// FUNCTIONAL DISCOVERY: Range scan over idx_sessions_last_active keeps
// the periodic sweep cheap independent of total session count
func (m *Manager) CleanupSessions(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int
	err := m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, "DELETE FROM sessions WHERE last_active_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup sessions: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			deleted = int(n)
		}
		return nil
	})
	return deleted, err
}

// CreateInviteCode inserts a new invite code row
func (m *Manager) CreateInviteCode(ctx context.Context, code *types.InviteCode) error {
	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO invite_codes (code, session_id, created_at, expires_at, used, used_by, used_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			code.Code,
			code.SessionID,
			code.CreatedAt,
			code.ExpiresAt,
			code.Used,
			code.UsedBy,
			code.UsedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert invite code: %w", err)
		}
		return nil
	})
}

// GetInviteCode retrieves an invite code row
func (m *Manager) GetInviteCode(ctx context.Context, code string) (*types.InviteCode, error) {
	query := `
		SELECT code, session_id, created_at, expires_at, used, used_by, used_at
		FROM invite_codes
		WHERE code = ?
	`

	row := m.db.QueryRowContext(ctx, query, code)

	var invite types.InviteCode
	var usedBy sql.NullString
	var usedAt sql.NullTime

	err := row.Scan(
		&invite.Code,
		&invite.SessionID,
		&invite.CreatedAt,
		&invite.ExpiresAt,
		&invite.Used,
		&usedBy,
		&usedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrInviteCodeNotFound
		}
		return nil, fmt.Errorf("failed to query invite code: %w", err)
	}

	// FUNCTIONAL DISCOVERY: used_by/used_at are null until redemption
	if usedBy.Valid {
		invite.UsedBy = &usedBy.String
	}
	if usedAt.Valid {
		invite.UsedAt = &usedAt.Time
	}

	return &invite, nil
}

// MarkInviteCodeUsed flips a code to used exactly once at the row level
func (m *Manager) MarkInviteCodeUsed(ctx context.Context, code, usedBy string, usedAt time.Time) error {
	return m.executeWrite(func(db *sql.DB) error {
		// TECHNICAL DISCOVERY: The used = 0 guard makes the row transition
		// one-way even if two redeems race past the service-level check
		result, err := db.ExecContext(ctx,
			"UPDATE invite_codes SET used = 1, used_by = ?, used_at = ? WHERE code = ? AND used = 0",
			usedBy, usedAt, code,
		)
		if err != nil {
			return fmt.Errorf("failed to mark invite code used: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check invite code update: %w", err)
		}
		if n == 0 {
			return interfaces.ErrInviteCodeNotFound
		}
		return nil
	})
}

// DeleteInviteCode removes a single code row
func (m *Manager) DeleteInviteCode(ctx context.Context, code string) error {
	return m.executeWrite(func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, "DELETE FROM invite_codes WHERE code = ?", code)
		if err != nil {
			return fmt.Errorf("failed to delete invite code: %w", err)
		}
		return nil
	})
}

// CleanupInviteCodes removes codes expiring before the cutoff regardless of use
func (m *Manager) CleanupInviteCodes(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int
	err := m.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, "DELETE FROM invite_codes WHERE expires_at < ?", cutoff)
		if err != nil {
			return fmt.Errorf("failed to cleanup invite codes: %w", err)
		}
		if n, err := result.RowsAffected(); err == nil {
			deleted = int(n)
		}
		return nil
	})
	return deleted, err
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Test read operation to verify database is accessible
	rows, err := m.db.QueryContext(ctx, "SELECT COUNT(*) FROM sessions LIMIT 1")
	if err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	_ = rows.Close()

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait() // Wait for write loop to finish processing

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// isRowContractError reports whether a write error is a deliberate
// contract outcome rather than a storage failure. Constraint violations
// are deterministic - repeating the same insert can only fail the same
// way - and callers handle them by retrying with a fresh ID, so
// stalling the single writer on them would block every other write
func isRowContractError(err error) bool {
	if errors.Is(err, interfaces.ErrSessionNotFound) || errors.Is(err, interfaces.ErrInviteCodeNotFound) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

// scanSession reads one session row including the JSON state blob
func scanSession(row *sql.Row) (*types.Session, error) {
	var session types.Session
	var stateJSON string

	err := row.Scan(
		&session.ID,
		&session.CreatedBy,
		&session.CreatedAt,
		&session.UpdatedAt,
		&session.LastActiveAt,
		&session.IsActive,
		&stateJSON,
		&session.MaxClients,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	if err := json.Unmarshal([]byte(stateJSON), &session.State); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session state: %w", err)
	}

	return &session, nil
}
