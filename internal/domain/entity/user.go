// Package entity contains the core business objects of the project,
// each representing a unique, identifiable concept within the domain.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier is the plan a user is entitled to. It is embedded in access tokens.
type SubscriptionTier string

const (
	SubscriptionTierFree  SubscriptionTier = "free"
	SubscriptionTierTrial SubscriptionTier = "trial"
	SubscriptionTierPro   SubscriptionTier = "pro"
)

// SubscriptionStatus tracks the billing state of the tier.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusExpired  SubscriptionStatus = "expired"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// User is the local account. One User may be reachable from several provider identities.
type User struct {
	ID                 uuid.UUID          // The Global Unique Identifier (GUID) for the user.
	Email              string             // Unique, stored lower-cased.
	EmailVerified      bool               // Whether any linked provider vouched for the email.
	Name               string             // Display name.
	AvatarURL          string             // Profile picture URL, may be empty.
	SubscriptionTier   SubscriptionTier   // Current plan.
	SubscriptionStatus SubscriptionStatus // Billing state of the plan.
	TrialEndsAt        *time.Time         // End of the trial window, nil when no trial was granted.
	Settings           UserSettings       // Per-user preferences seeded on sign-up.
	CreatedAt          time.Time          // Timestamp of when this user account was created.
	UpdatedAt          time.Time          // Timestamp of the last modification to this user's data.
	DeletedAt          *time.Time         // Tombstone. Set on account deletion, never cleared.
}

// IsDeleted reports whether the account has been tombstoned.
func (u *User) IsDeleted() bool {
	return u.DeletedAt != nil
}

// UserSettings holds user preferences.
type UserSettings struct {
	DistanceUnit string `json:"distance_unit"`
	Currency     string `json:"currency"`
	Timezone     string `json:"timezone"`
}

// DefaultUserSettings returns the settings assigned to new accounts.
func DefaultUserSettings() UserSettings {
	return UserSettings{
		DistanceUnit: "km",
		Currency:     "USD",
		Timezone:     "UTC",
	}
}
