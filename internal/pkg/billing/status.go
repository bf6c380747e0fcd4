package billing

import (
	"strings"

	"github.com/ManuelReschke/billingsync/app/models"
)

// MapProviderStatus translates a provider subscription status into the local
// vocabulary. Unrecognized values keep the current status.
func MapProviderStatus(providerStatus, current string) string {
	switch strings.ToLower(strings.TrimSpace(providerStatus)) {
	case "active", "trialing":
		return models.SubscriptionStatusActive
	case "past_due", "unpaid":
		return models.SubscriptionStatusPastDue
	case "canceled", "cancelled", "incomplete_expired", "ended":
		return models.SubscriptionStatusCancelled
	default:
		return current
	}
}
