package service

import (
	"context"
	"time"
)

// Security event types.
const (
	SecurityEventRefreshReuse   = "refresh_token_reuse"
	SecurityEventAccountDeleted = "account_deleted"
	SecurityEventNewAccount     = "account_created"
)

// SecurityEvent is published for security-relevant state changes so that
// downstream consumers (audit log, alerting) can react to them.
type SecurityEvent struct {
	RequestID  string            `json:"request_id,omitempty"` // For distributed tracing
	EventID    string            `json:"event_id"`
	Type       string            `json:"type"`
	UserID     string            `json:"user_id"`
	SessionID  string            `json:"session_id,omitempty"`
	FamilyID   string            `json:"family_id,omitempty"`
	DeviceID   string            `json:"device_id,omitempty"`
	Revoked    int64             `json:"revoked_sessions,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventPublisher defines the interface for publishing events to a message queue
type EventPublisher interface {
	// PublishSecurityEvent delivers the event. Callers treat failures as non-fatal.
	PublishSecurityEvent(ctx context.Context, event *SecurityEvent) error

	// Close releases any resources held by the publisher
	Close() error
}
