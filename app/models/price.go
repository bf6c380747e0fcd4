package models

import (
	"strings"
	"time"
)

const (
	PriceIntervalDay   = "day"
	PriceIntervalWeek  = "week"
	PriceIntervalMonth = "month"
	PriceIntervalYear  = "year"
)

type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(150);not null" json:"name" validate:"required,max=150"`
	Description string    `gorm:"type:text" json:"description"`
	IsActive    bool      `gorm:"index" json:"is_active"`
	Prices      []Price   `gorm:"foreignKey:ProductID" json:"prices,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Price is immutable once referenced by a subscription or payment. A changed
// amount is expressed as a new Price row that supersedes this one.
type Price struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProductID       uint      `gorm:"not null;index" json:"product_id"`
	Product         *Product  `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Provider        string    `gorm:"type:varchar(20);not null;default:''" json:"provider"`
	ProviderPriceID string    `gorm:"type:varchar(191);not null;default:'';index" json:"provider_price_id"`
	Amount          int64     `gorm:"not null" json:"amount"`
	Currency        string    `gorm:"type:varchar(3);not null" json:"currency"`
	Interval        *string   `gorm:"type:varchar(16);default:null" json:"interval,omitempty"`
	IntervalCount   int       `gorm:"not null;default:1" json:"interval_count"`
	IsActive        bool      `gorm:"index" json:"is_active"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsRecurring reports whether the price bills on an interval. A null
// interval means a one-time purchase.
func (p *Price) IsRecurring() bool {
	return p.Interval != nil && strings.TrimSpace(*p.Interval) != ""
}
