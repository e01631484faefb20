package models

import "time"

// User represents an account known to the local identity provider.
type User struct {
	ID        string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the authenticated identity handle issued by the identity provider.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SubscriptionStatus is the stored subscription state of a profile.
type SubscriptionStatus string

const (
	SubscriptionInactive SubscriptionStatus = "inactive"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionExpired  SubscriptionStatus = "expired"
)

// Valid reports whether the status is one of the known values.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionInactive, SubscriptionActive, SubscriptionExpired:
		return true
	}
	return false
}

// Profile is the per-principal record carrying subscription entitlement.
type Profile struct {
	ID                    string             `json:"id"`
	Email                 string             `json:"email"`
	SubscriptionStatus    SubscriptionStatus `json:"subscriptionStatus"`
	SubscriptionExpiresAt *time.Time         `json:"subscriptionExpiresAt,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
}

// ProfileUpdate carries the subscription fields written by entitlement updates.
// A nil SubscriptionExpiresAt clears the stored expiry.
type ProfileUpdate struct {
	SubscriptionStatus    SubscriptionStatus
	SubscriptionExpiresAt *time.Time
}

// Video is a catalog entry. Optional text fields are empty when absent.
type Video struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	FileRef         string    `json:"fileRef"`
	ThumbnailRef    string    `json:"thumbnailRef,omitempty"`
	DurationSeconds *int      `json:"durationSeconds,omitempty"`
	Genre           string    `json:"genre,omitempty"`
	Year            *int      `json:"year,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	OwnerID         string    `json:"ownerId"`
}
