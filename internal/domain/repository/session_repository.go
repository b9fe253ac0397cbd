package repository

import (
	"context"
	"errors"
	"time"

	"keystone/internal/domain/entity"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrRefreshHashMismatch is returned by RotateRefreshHash when the stored
	// hash no longer equals the expected one, or the session is revoked.
	ErrRefreshHashMismatch = errors.New("refresh token hash mismatch")
)

// RotateParams describes a compare-and-swap of a session's refresh hash.
type RotateParams struct {
	SessionID    uuid.UUID
	ExpectedHash string
	NewHash      string
	ExpiresAt    time.Time
	LastActiveAt time.Time
}

// SessionRepository persists sessions. Sessions are never deleted, only revoked.
// Every Revoke* method only touches sessions that are not yet revoked, which
// makes them idempotent, and reports how many sessions it revoked.
type SessionRepository interface {
	// Create persists a new session.
	Create(ctx context.Context, session *entity.Session) error

	// FindByID retrieves a session regardless of its state.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Session, error)

	// ListActiveByUserID returns sessions of the user that are neither revoked
	// nor expired at now, most recently active first.
	ListActiveByUserID(ctx context.Context, userID uuid.UUID, now time.Time) ([]*entity.Session, error)

	// RotateRefreshHash atomically replaces the refresh hash, expiry and
	// last-active time if and only if the stored hash equals ExpectedHash and
	// the session is not revoked. Otherwise it returns ErrRefreshHashMismatch
	// and changes nothing.
	RotateRefreshHash(ctx context.Context, params RotateParams) error

	// Revoke revokes one session.
	Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) (int64, error)

	// RevokeByUser revokes every session of the user.
	RevokeByUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error)

	// RevokeByUserDevice revokes every session of the user bound to deviceID.
	RevokeByUserDevice(ctx context.Context, userID uuid.UUID, deviceID string, reason string, at time.Time) (int64, error)

	// RevokeFamily revokes every session carrying familyID.
	RevokeFamily(ctx context.Context, familyID uuid.UUID, reason string, at time.Time) (int64, error)
}
