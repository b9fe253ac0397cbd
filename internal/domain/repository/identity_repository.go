package repository

import (
	"context"
	"errors"
	"time"

	"keystone/internal/domain/entity"

	"github.com/google/uuid"
)

var (
	// ErrIdentityNotFound is returned when no link exists for a provider subject.
	ErrIdentityNotFound = errors.New("identity link not found")
	// ErrIdentityExists is returned when the (provider, subject) pair is already linked.
	ErrIdentityExists = errors.New("identity link already exists")
)

// IdentityRepository persists provider identity links.
type IdentityRepository interface {
	// FindByProviderSubject returns the link for the (provider, subject) pair.
	FindByProviderSubject(ctx context.Context, provider entity.ProviderType, subject string) (*entity.IdentityLink, error)

	// ListByUserID returns every link owned by the user.
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]*entity.IdentityLink, error)

	// Create persists a new link. Returns ErrIdentityExists on a duplicate pair.
	Create(ctx context.Context, link *entity.IdentityLink) error

	// Touch records a successful sign-in through the link. A non-empty
	// encryptedRefreshToken replaces the stored provider token.
	Touch(ctx context.Context, id uuid.UUID, usedAt time.Time, encryptedRefreshToken string) error
}
