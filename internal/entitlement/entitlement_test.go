package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/silluthedon/delta/internal/models"
)

func TestEvaluate(t *testing.T) {
	past := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		profile *models.Profile
		want    Level
	}{
		{"nilProfile", nil, Locked},
		{"inactive", &models.Profile{SubscriptionStatus: models.SubscriptionInactive}, Locked},
		{"expired", &models.Profile{SubscriptionStatus: models.SubscriptionExpired}, Locked},
		{"active", &models.Profile{SubscriptionStatus: models.SubscriptionActive}, Full},
		{"activeWithLapsedExpiry", &models.Profile{SubscriptionStatus: models.SubscriptionActive, SubscriptionExpiresAt: &past}, Full},
		{"unknownStatus", &models.Profile{SubscriptionStatus: "ACTIVE"}, Locked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Evaluate(tc.profile)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want == Full, got.IsFull())
		})
	}
}
