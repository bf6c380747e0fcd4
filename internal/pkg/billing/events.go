package billing

import (
	"context"
	"sync"
	"time"
)

// EventName identifies an integration event emitted by the engine.
type EventName string

const (
	EventSubscriptionCreated   EventName = "subscription.created"
	EventSubscriptionUpdated   EventName = "subscription.updated"
	EventSubscriptionCancelled EventName = "subscription.cancelled"
	EventPaymentSucceeded      EventName = "payment.succeeded"
	EventPaymentFailed         EventName = "payment.failed"
	EventCheckoutCompleted     EventName = "checkout.completed"
	EventInvoicePaid           EventName = "invoice.paid"
)

// Event is the only thing downstream consumers see of a reconciled webhook.
// IDs are local surrogate keys; zero means not applicable.
type Event struct {
	Name               EventName `json:"name"`
	Provider           string    `json:"provider"`
	ProviderEventID    string    `json:"provider_event_id"`
	UserID             uint      `json:"user_id,omitempty"`
	CustomerID         uint      `json:"customer_id,omitempty"`
	SubscriptionID     uint      `json:"subscription_id,omitempty"`
	SubscriptionStatus string    `json:"subscription_status,omitempty"`
	PaymentID          uint      `json:"payment_id,omitempty"`
	InvoiceID          uint      `json:"invoice_id,omitempty"`
	CheckoutSessionID  string    `json:"checkout_session_id,omitempty"`
	Amount             int64     `json:"amount,omitempty"`
	Currency           string    `json:"currency,omitempty"`
	FailureMessage     string    `json:"failure_message,omitempty"`
	OccurredAt         time.Time `json:"occurred_at"`
}

// IsSubscriptionEvent reports whether the event changes a subscription's state.
func (e Event) IsSubscriptionEvent() bool {
	switch e.Name {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionCancelled:
		return true
	}
	return false
}

// Publisher hands committed events to the dispatcher.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}

// Consumer reacts to integration events outside the webhook transaction.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, events []Event) error

func (f PublisherFunc) Publish(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

// RecordingPublisher keeps every published event in memory.
type RecordingPublisher struct {
	mu     sync.Mutex
	Events []Event
}

func (p *RecordingPublisher) Publish(ctx context.Context, events []Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Events = append(p.Events, events...)
	return nil
}

// Names lists the recorded event names in order.
func (p *RecordingPublisher) Names() []EventName {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]EventName, 0, len(p.Events))
	for _, e := range p.Events {
		names = append(names, e.Name)
	}
	return names
}
