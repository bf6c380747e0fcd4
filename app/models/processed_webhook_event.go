package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEventTypeIgnored marks ledger rows for provider events without a
// canonical mapping.
const WebhookEventTypeIgnored = "ignored"

// ProcessedWebhookEvent is the append-only idempotency record for provider
// webhooks. Rows are never updated after insert.
type ProcessedWebhookEvent struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Provider          string         `gorm:"type:varchar(20);not null;index:ux_processed_webhook_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID   string         `gorm:"type:varchar(191);not null;index:ux_processed_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType         string         `gorm:"type:varchar(50);not null;index" json:"event_type"`
	ProviderEventType string         `gorm:"type:varchar(100);default:''" json:"provider_event_type"`
	Payload           datatypes.JSON `json:"payload,omitempty"`
	ProcessedAt       *time.Time     `gorm:"default:null" json:"processed_at,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
