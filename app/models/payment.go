package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Payment is one settled attempt. ProviderPaymentID is the natural dedupe key.
type Payment struct {
	ID                uint              `gorm:"primaryKey" json:"id"`
	CustomerID        uint              `gorm:"not null;index" json:"customer_id"`
	SubscriptionID    *uint             `gorm:"index" json:"subscription_id,omitempty"`
	PriceID           *uint             `gorm:"index" json:"price_id,omitempty"`
	Provider          string            `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderPaymentID string            `gorm:"type:varchar(191);not null;index:ux_payments_provider_payment,unique" json:"provider_payment_id"`
	Amount            int64             `gorm:"not null;default:0" json:"amount"`
	AmountRefunded    int64             `gorm:"not null;default:0" json:"amount_refunded"`
	Currency          string            `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	Status            string            `gorm:"type:varchar(20);not null;index" json:"status"`
	FailureCode       string            `gorm:"type:varchar(100);default:''" json:"failure_code,omitempty"`
	FailureMessage    string            `gorm:"type:text" json:"failure_message,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
