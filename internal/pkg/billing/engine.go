package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

// errConcurrentDelivery rolls back a transaction whose ledger write lost the
// race against another delivery of the same event.
var errConcurrentDelivery = errors.New("billing: event recorded by a concurrent delivery")

// AdapterResolver is satisfied by *gateway.Registry.
type AdapterResolver interface {
	Resolve(name string) (gateway.Adapter, error)
}

// Result describes what a webhook call did.
type Result struct {
	Provider  string
	EventType string
	Duplicate bool
	Ignored   bool
	Events    []Event
}

// Engine applies verified provider webhooks to local billing state.
type Engine struct {
	db        *gorm.DB
	gateways  AdapterResolver
	publisher Publisher
	log       *Logger
	now       func() time.Time
}

func NewEngine(db *gorm.DB, gateways AdapterResolver, publisher Publisher, logger *Logger) *Engine {
	return &Engine{
		db:        db,
		gateways:  gateways,
		publisher: publisher,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// HandleWebhook verifies the delivery with the provider's adapter and
// reconciles it. Signature failures are returned before anything touches the
// database.
func (e *Engine) HandleWebhook(ctx context.Context, provider string, req gateway.WebhookRequest) (*Result, error) {
	adapter, err := e.gateways.Resolve(provider)
	if err != nil {
		return nil, err
	}

	event, err := adapter.VerifyAndParseWebhook(req)
	if err != nil {
		e.log.Warnf("Rejected %s webhook: %v", adapter.Name(), err)
		return nil, err
	}
	if event.Provider == "" {
		event.Provider = adapter.Name()
	}
	return e.Process(ctx, adapter, event)
}

// Process runs one verified event through the ledger and its handler inside
// a single transaction, then publishes the emitted events.
func (e *Engine) Process(ctx context.Context, adapter gateway.Adapter, event *gateway.NormalizedWebhookEvent) (*Result, error) {
	result := &Result{Provider: event.Provider, EventType: event.LedgerType()}
	now := e.now()

	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)
		ledger := NewLedger(repos.WebhookEvent)

		done, err := ledger.AlreadyProcessed(event.Provider, event.ProviderEventID)
		if err != nil {
			return fmt.Errorf("ledger lookup: %w", err)
		}
		if done {
			result.Duplicate = true
			return nil
		}

		r := &reconciler{ctx: ctx, repos: repos, adapter: adapter, event: event, now: now, log: e.log}
		events, err := r.dispatch()
		if err != nil {
			return err
		}

		recorded, err := ledger.RecordProcessed(event, now)
		if err != nil {
			return fmt.Errorf("ledger write: %w", err)
		}
		if !recorded {
			return errConcurrentDelivery
		}
		result.Events = events
		result.Ignored = !event.Mapped()
		return nil
	})

	if errors.Is(err, errConcurrentDelivery) {
		result.Duplicate = true
		result.Events = nil
		err = nil
	}
	if err != nil {
		e.log.Errorf("Failed to process %s event %s (%s): %v", event.Provider, event.ProviderEventID, event.ProviderEventType, err)
		return nil, fmt.Errorf("billing: process %s event %s: %w", event.Provider, event.ProviderEventID, err)
	}

	switch {
	case result.Duplicate:
		e.log.Infof("Skipped duplicate %s event %s", event.Provider, event.ProviderEventID)
	case result.Ignored:
		e.log.Debugf("Recorded unmapped %s event %s (%s)", event.Provider, event.ProviderEventID, event.ProviderEventType)
	default:
		e.log.Infof("Processed %s event %s as %s with %d integration event(s)", event.Provider, event.ProviderEventID, event.Type, len(result.Events))
	}

	if len(result.Events) > 0 && e.publisher != nil {
		if err := e.publisher.Publish(ctx, result.Events); err != nil {
			e.log.Errorf("Failed to publish %d event(s) for %s event %s: %v", len(result.Events), event.Provider, event.ProviderEventID, err)
		}
	}
	return result, nil
}
