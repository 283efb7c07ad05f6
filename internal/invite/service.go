package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"syncdeck/pkg/interfaces"
	"syncdeck/pkg/types"
)

var log = logrus.StandardLogger().WithField("component", "invite")

const (
	codeLength     = 6
	baseLength     = 5
	maxGenAttempts = 5
)

// Service owns invite code issuing and redemption. Codes are short
// lived, single use, and checksum protected so malformed input is
// rejected without touching the store.
type Service struct {
	store interfaces.InviteStore
	ttl   time.Duration
}

// NewService creates an invite code service over the given store.
func NewService(store interfaces.InviteStore, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// Generate issues a fresh single-use code bound to a session.
func (s *Service) Generate(ctx context.Context, sessionID, issuerClientID string) (*types.InviteCode, error) {
	now := time.Now()

	for attempt := 0; attempt < maxGenAttempts; attempt++ {
		base, err := randomDigits(baseLength)
		if err != nil {
			return nil, err
		}
		code := fmt.Sprintf("%s%d", base, ChecksumDigit(base))

		invite := &types.InviteCode{
			Code:      code,
			SessionID: sessionID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.ttl),
			Used:      false,
		}

		if err := s.store.CreateInviteCode(ctx, invite); err != nil {
			// Five random digits collide rarely but the primary key insert
			// is the arbiter; retry with a fresh base
			if isUniqueViolation(err) {
				continue
			}
			return nil, fmt.Errorf("failed to create invite code: %w", err)
		}

		log.WithFields(logrus.Fields{"sessionId": sessionID, "issuer": issuerClientID}).Info("invite code generated")
		return invite, nil
	}

	return nil, ErrCodeCollision
}

// Validate checks a code without consuming it. Format and checksum
// failures are rejected cheaply before any store lookup. Expired codes
// are lazily deleted. Used codes are reported as not found.
func (s *Service) Validate(ctx context.Context, code string) (*types.InviteCode, error) {
	if len(code) != codeLength || !isAllDigits(code) {
		return nil, ErrInvalidFormat
	}
	if !ValidateChecksum(code) {
		return nil, ErrBadChecksum
	}

	invite, err := s.store.GetInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, interfaces.ErrInviteCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, err
	}

	if time.Now().After(invite.ExpiresAt) {
		// FUNCTIONAL DISCOVERY: lazy delete mirrors the session
		// directory; the sweep catches codes nobody validates again
		if err := s.store.DeleteInviteCode(ctx, code); err != nil {
			log.WithError(err).Warn("failed to delete expired invite code")
		}
		return nil, ErrCodeExpired
	}

	// Never leak used-vs-missing to callers
	if invite.Used {
		return nil, ErrCodeNotFound
	}

	return invite, nil
}

// Redeem marks a code used by the redeemer. Callers are expected to
// Validate first; the pair is deliberately not atomic. The TOCTOU
// window is accepted as harmless given single use plus short TTL, and
// the store's row guard keeps the used transition one-way regardless.
func (s *Service) Redeem(ctx context.Context, code, redeemerClientID string) (*types.InviteCode, error) {
	invite, err := s.Validate(ctx, code)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.store.MarkInviteCodeUsed(ctx, code, redeemerClientID, now); err != nil {
		if errors.Is(err, interfaces.ErrInviteCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to redeem invite code: %w", err)
	}

	invite.Used = true
	invite.UsedBy = &redeemerClientID
	invite.UsedAt = &now

	log.WithFields(logrus.Fields{"sessionId": invite.SessionID, "redeemer": redeemerClientID}).Info("invite code redeemed")
	return invite, nil
}

// CleanupExpired removes all codes past their TTL regardless of use.
func (s *Service) CleanupExpired(ctx context.Context) (int, error) {
	deleted, err := s.store.CleanupInviteCodes(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("invite code sweep failed: %w", err)
	}
	if deleted > 0 {
		log.WithField("deleted", deleted).Info("invite sweep removed expired codes")
	}
	return deleted, nil
}

// RunSweeper runs the periodic cleanup until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				log.WithError(err).Warn("invite sweep error")
			}
		case <-ctx.Done():
			return
		}
	}
}

// randomDigits returns n uniformly random decimal digits.
func randomDigits(n int) (string, error) {
	digits := make([]byte, n)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to read random digit: %w", err)
		}
		digits[i] = byte('0' + v.Int64())
	}
	return string(digits), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") || strings.Contains(err.Error(), "PRIMARY KEY"))
}
