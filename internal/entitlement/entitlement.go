// Package entitlement decides how much of the catalog a profile may see.
package entitlement

import "github.com/silluthedon/delta/internal/models"

// Level is the derived access level of a profile.
type Level string

const (
	// Locked callers only see thumbnails and receive subscription-required errors.
	Locked Level = "locked"
	// Full callers see complete records and may play them.
	Full Level = "full"
)

// Evaluate returns Full only for a non-nil profile whose stored status is active.
//
// SubscriptionExpiresAt is not consulted: status transitions are made by an
// administrator and the expiry is informational.
func Evaluate(profile *models.Profile) Level {
	if profile != nil && profile.SubscriptionStatus == models.SubscriptionActive {
		return Full
	}
	return Locked
}

// IsFull reports whether the level grants full access.
func (l Level) IsFull() bool {
	return l == Full
}
