package entity

import (
	"time"

	"github.com/google/uuid"
)

// Revocation reasons recorded on sessions.
const (
	RevokeReasonLogout         = "logout"
	RevokeReasonLogoutDevice   = "logout_device"
	RevokeReasonLogoutAll      = "logout_all"
	RevokeReasonUserRevoked    = "user_revoked"
	RevokeReasonExpired        = "expired"
	RevokeReasonReuseDetected  = "reuse_detected"
	RevokeReasonAccountDeleted = "account_deleted"
	RevokeReasonOwnerMissing   = "owner_missing"
)

// DeviceInfo describes the client a session was opened from.
type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	Platform   string
	AppVersion string
	UserAgent  string
	IPAddress  string
}

// Session is one authenticated device login.
//
// RefreshTokenHash holds the SHA-256 of the only refresh token that may
// currently rotate the session. It is replaced on every rotation and the raw
// token is never stored. Once RevokedAt is set the session is terminal.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	DeviceID         string
	RefreshTokenHash string
	FamilyID         uuid.UUID
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	RevokedReason    string
	LastActiveAt     time.Time
	Device           DeviceInfo
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsRevoked reports whether the session reached its terminal state.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsExpired reports whether the session expiry has passed at now.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// IsActive reports whether the session can still be rotated at now.
func (s *Session) IsActive(now time.Time) bool {
	return !s.IsRevoked() && !s.IsExpired(now)
}

// SessionInfo is the listing view of a session.
type SessionInfo struct {
	ID           uuid.UUID
	DeviceID     string
	DeviceName   string
	Platform     string
	AppVersion   string
	IPAddress    string
	CreatedAt    time.Time
	LastActiveAt time.Time
	ExpiresAt    time.Time
	// IsCurrent marks the most recently active session. It is a recency
	// heuristic, not proof that the caller holds this session.
	IsCurrent bool
}

// NewSessionInfo builds the listing view of s.
func NewSessionInfo(s *Session) *SessionInfo {
	return &SessionInfo{
		ID:           s.ID,
		DeviceID:     s.DeviceID,
		DeviceName:   s.Device.DeviceName,
		Platform:     s.Device.Platform,
		AppVersion:   s.Device.AppVersion,
		IPAddress:    s.Device.IPAddress,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		ExpiresAt:    s.ExpiresAt,
	}
}
