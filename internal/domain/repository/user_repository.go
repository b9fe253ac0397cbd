// Package repository defines the interfaces for the persistence layer.
// These interfaces act as a contract between the domain/application layers and the infrastructure layer.
package repository

import (
	"context"
	"errors"
	"time"

	"keystone/internal/domain/entity"

	"github.com/google/uuid"
)

var (
	// ErrUserNotFound is a domain-specific error returned when a user is not found.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserEmailTaken is returned when another user already owns the email.
	ErrUserEmailTaken = errors.New("user email already taken")
)

// UserRepository defines the standard operations for user persistence.
// Tombstoned users are still returned by the finders; callers check IsDeleted.
type UserRepository interface {
	// FindByID retrieves a single user by their unique ID.
	FindByID(ctx context.Context, id uuid.UUID) (*entity.User, error)

	// FindByEmail retrieves a live (not tombstoned) user by email, case-insensitively.
	FindByEmail(ctx context.Context, email string) (*entity.User, error)

	// Create persists a new user entity to the storage.
	Create(ctx context.Context, user *entity.User) error

	// Update modifies an existing user entity in the storage.
	Update(ctx context.Context, user *entity.User) error

	// SoftDelete tombstones the user at deletedAt. Deleting twice keeps the first timestamp.
	SoftDelete(ctx context.Context, id uuid.UUID, deletedAt time.Time) error
}
