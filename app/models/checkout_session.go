package models

import "time"

const (
	CheckoutStatusPending   = "pending"
	CheckoutStatusCompleted = "completed"
	CheckoutStatusAbandoned = "abandoned"
	CheckoutStatusExpired   = "expired"
)

// CheckoutSession is an ephemeral intent to purchase a Price. Terminal
// states (completed, abandoned, expired) are final.
type CheckoutSession struct {
	ID                uint       `gorm:"primaryKey" json:"-"`
	UUID              string     `gorm:"type:varchar(36);not null;index:ux_checkout_sessions_uuid,unique" json:"id"`
	PriceID           uint       `gorm:"not null;index" json:"price_id"`
	Price             *Price     `gorm:"foreignKey:PriceID" json:"price,omitempty"`
	CustomerID        *uint      `gorm:"index" json:"customer_id,omitempty"`
	Customer          *Customer  `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"-"`
	Provider          string     `gorm:"type:varchar(20);not null;default:''" json:"provider"`
	ProviderSessionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_session_id"`
	Status            string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ExpiresAt         time.Time  `gorm:"not null;index" json:"expires_at"`
	CompletedAt       *time.Time `gorm:"default:null" json:"completed_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *CheckoutSession) IsTerminal() bool {
	return s.Status != CheckoutStatusPending
}

// IsOpen reports whether the session still accepts buyer details.
func (s *CheckoutSession) IsOpen(now time.Time) bool {
	return s.Status == CheckoutStatusPending && now.Before(s.ExpiresAt)
}
