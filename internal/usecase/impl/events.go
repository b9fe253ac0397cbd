package impl

import (
	"context"
	"log/slog"
	"time"

	deliverycontext "keystone/internal/delivery/context"
	"keystone/internal/domain/service"

	"github.com/google/uuid"
)

// publishSecurityEvent stamps and publishes event. Delivery failures are
// logged and dropped; the state change the event describes has already committed.
func publishSecurityEvent(ctx context.Context, publisher service.EventPublisher, logger *slog.Logger, at time.Time, event *service.SecurityEvent) {
	event.EventID = uuid.NewString()
	event.RequestID = deliverycontext.GetRequestIDFromContext(ctx)
	event.OccurredAt = at

	if err := publisher.PublishSecurityEvent(ctx, event); err != nil {
		logger.Warn("Failed to publish security event",
			slog.String("type", event.Type),
			slog.String("event_id", event.EventID),
			slog.Any("error", err),
		)
	}
}
