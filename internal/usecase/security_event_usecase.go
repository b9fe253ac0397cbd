package usecase

import (
	"context"

	"keystone/internal/domain/service"
)

// SecurityEventUsecase consumes security events delivered by Pub/Sub.
// Handling is idempotent because push delivery is at-least-once.
// Malformed events fail with ErrValidationFailed and must not be retried.
type SecurityEventUsecase interface {
	HandleSecurityEvent(ctx context.Context, event *service.SecurityEvent) error
}
