package billing

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

// Ledger is the idempotency record of processed provider events. Build it on
// a transaction-scoped repository so the ledger write commits together with
// the domain changes.
type Ledger struct {
	events repository.WebhookEventRepository
}

func NewLedger(events repository.WebhookEventRepository) *Ledger {
	return &Ledger{events: events}
}

func (l *Ledger) AlreadyProcessed(provider, providerEventID string) (bool, error) {
	return l.events.Exists(provider, providerEventID)
}

// RecordProcessed appends the ledger row. It returns false when another
// delivery of the same event recorded it first.
func (l *Ledger) RecordProcessed(event *gateway.NormalizedWebhookEvent, processedAt time.Time) (bool, error) {
	row := &models.ProcessedWebhookEvent{
		Provider:          event.Provider,
		ProviderEventID:   event.ProviderEventID,
		EventType:         event.LedgerType(),
		ProviderEventType: event.ProviderEventType,
		ProcessedAt:       &processedAt,
	}
	if len(event.Raw) > 0 && json.Valid(event.Raw) {
		row.Payload = datatypes.JSON(event.Raw)
	}
	return l.events.CreateIfNotExists(row)
}
