package models

import "time"

const (
	SubscriptionStatusPending   = "pending"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusPastDue   = "past_due"
	SubscriptionStatusCancelled = "cancelled"
)

// Subscription mirrors a provider subscription. CancelledAt/EndsAt describe a
// scheduled cancellation: the subscription stays active until EndsAt.
type Subscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	CustomerID             uint       `gorm:"not null;index" json:"customer_id"`
	Customer               *Customer  `gorm:"foreignKey:CustomerID" json:"-"`
	PriceID                *uint      `gorm:"index" json:"price_id,omitempty"`
	Price                  *Price     `gorm:"foreignKey:PriceID" json:"price,omitempty"`
	Provider               string     `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_subscriptions_provider_subscription,unique" json:"provider_subscription_id"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CurrentPeriodStartsAt  *time.Time `gorm:"default:null" json:"current_period_starts_at,omitempty"`
	CurrentPeriodEndsAt    *time.Time `gorm:"default:null" json:"current_period_ends_at,omitempty"`
	CancelledAt            *time.Time `gorm:"default:null" json:"cancelled_at,omitempty"`
	EndsAt                 *time.Time `gorm:"default:null" json:"ends_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EntitlingSubscriptionStatuses grant the subscriber role.
var EntitlingSubscriptionStatuses = []string{SubscriptionStatusActive, SubscriptionStatusPastDue}

func IsEntitlingSubscriptionStatus(status string) bool {
	for _, s := range EntitlingSubscriptionStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// OnGracePeriod reports a scheduled cancellation that has not lapsed yet.
func (s *Subscription) OnGracePeriod(now time.Time) bool {
	return s.CancelledAt != nil && s.EndsAt != nil && now.Before(*s.EndsAt)
}

// IsActiveAt reports whether the subscription grants access at the given time.
// A pending cancellation keeps it active until EndsAt.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	if !IsEntitlingSubscriptionStatus(s.Status) {
		return false
	}
	return s.EndsAt == nil || now.Before(*s.EndsAt)
}
