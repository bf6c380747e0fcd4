package models

import "time"

const (
	InvoiceStatusDraft  = "draft"
	InvoiceStatusPosted = "posted"
	InvoiceStatusPaid   = "paid"
	InvoiceStatusUnpaid = "unpaid"
	InvoiceStatusVoided = "voided"
)

// Invoice is upserted by ProviderInvoiceID at application level; the column
// carries a plain index, not a unique constraint.
type Invoice struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	CustomerID        uint       `gorm:"not null;index" json:"customer_id"`
	SubscriptionID    *uint      `gorm:"index" json:"subscription_id,omitempty"`
	PaymentID         *uint      `gorm:"index" json:"payment_id,omitempty"`
	Provider          string     `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderInvoiceID string     `gorm:"type:varchar(191);not null;index" json:"provider_invoice_id"`
	Number            string     `gorm:"type:varchar(100);default:''" json:"number"`
	Currency          string     `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	Subtotal          int64      `gorm:"not null;default:0" json:"subtotal"`
	Tax               int64      `gorm:"not null;default:0" json:"tax"`
	Total             int64      `gorm:"not null;default:0" json:"total"`
	Status            string     `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	HostedURL         string     `gorm:"type:varchar(500);default:''" json:"hosted_url,omitempty"`
	PaidAt            *time.Time `gorm:"default:null" json:"paid_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
