package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe  = "stripe"
	BillingProviderPatreon = "patreon"
)

// Customer links one application user to one external billing identity.
// Created lazily on first checkout submission.
type Customer struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	UserID             uint            `gorm:"not null;index:ux_customers_user,unique" json:"user_id"`
	User               *User           `gorm:"foreignKey:UserID" json:"-"`
	Provider           string          `gorm:"type:varchar(20);not null;index" json:"provider"`
	ProviderCustomerID string          `gorm:"type:varchar(191);not null;index:ux_customers_provider_customer,unique" json:"provider_customer_id"`
	Name               string          `gorm:"type:varchar(150)" json:"name"`
	Email              string          `gorm:"type:varchar(200);default:''" json:"email"`
	PaymentMethods     []PaymentMethod `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"payment_methods,omitempty"`
	Subscriptions      []Subscription  `gorm:"foreignKey:CustomerID;constraint:OnDelete:CASCADE" json:"subscriptions,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PaymentMethod is a provider-side instrument resolved for a customer.
type PaymentMethod struct {
	ID                      uint      `gorm:"primaryKey" json:"id"`
	CustomerID              uint      `gorm:"not null;index" json:"customer_id"`
	Provider                string    `gorm:"type:varchar(20);not null" json:"provider"`
	ProviderPaymentMethodID string    `gorm:"type:varchar(191);not null;index:ux_payment_methods_provider_pm,unique" json:"provider_payment_method_id"`
	Type                    string    `gorm:"type:varchar(50);not null;default:''" json:"type"`
	Brand                   string    `gorm:"type:varchar(50);default:''" json:"brand"`
	Last4                   string    `gorm:"type:varchar(4);default:''" json:"last4"`
	ExpMonth                int       `gorm:"default:0" json:"exp_month"`
	ExpYear                 int       `gorm:"default:0" json:"exp_year"`
	IsDefault               bool      `json:"is_default"`
	CreatedAt               time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
