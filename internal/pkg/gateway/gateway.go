// Package gateway defines the capability interface every payment provider
// adapter implements and the registry that resolves adapters by name.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
)

var (
	ErrInvalidSignature    = errors.New("gateway: invalid webhook signature")
	ErrMalformedPayload    = errors.New("gateway: malformed webhook payload")
	ErrGatewayNotFound     = errors.New("gateway: not found")
	ErrGatewayNotEnabled   = errors.New("gateway: not enabled")
	ErrExpiredSubscription = errors.New("gateway: subscription is expired")
	ErrUnsupported         = errors.New("gateway: operation not supported")
)

// EventType is the provider-agnostic classification of a webhook.
type EventType string

const (
	EventCheckoutCompleted   EventType = "CheckoutCompleted"
	EventSubscriptionUpdated EventType = "SubscriptionUpdated"
	EventSubscriptionDeleted EventType = "SubscriptionDeleted"
	EventPaymentSucceeded    EventType = "PaymentSucceeded"
	EventPaymentFailed       EventType = "PaymentFailed"
	EventInvoicePaid         EventType = "InvoicePaid"
)

// WebhookRequest is the raw inbound delivery as received over HTTP.
type WebhookRequest struct {
	Body   []byte
	Header http.Header
}

// NormalizedWebhookEvent is a verified provider notification. Type is empty
// when the provider event has no canonical mapping.
type NormalizedWebhookEvent struct {
	Type              EventType
	Provider          string
	ProviderEventID   string
	ProviderEventType string
	Payload           Payload
	Raw               []byte
}

// Mapped reports whether the event translated to a canonical type.
func (e *NormalizedWebhookEvent) Mapped() bool {
	return e.Type != ""
}

// LedgerType is the value recorded in the idempotency ledger.
func (e *NormalizedWebhookEvent) LedgerType() string {
	if !e.Mapped() {
		return models.WebhookEventTypeIgnored
	}
	return string(e.Type)
}

type CheckoutRequest struct {
	Customer        *models.Customer
	Price           *models.Price
	SuccessURL      string
	CancelURL       string
	Coupon          string
	ClientReference string
}

type CheckoutResult struct {
	SessionID string
	URL       string
}

type PaymentMethodInfo struct {
	ProviderPaymentMethodID string
	Type                    string
	Brand                   string
	Last4                   string
	ExpMonth                int
	ExpYear                 int
}

// Adapter is implemented once per payment provider.
type Adapter interface {
	Name() string
	CreateCustomer(ctx context.Context, name, email string) (string, error)
	// CreateCheckoutSession picks one-time or recurring mode from the price interval.
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error)
	// CancelSubscription returns the scheduled end of the subscription, or nil
	// when it was terminated immediately.
	CancelSubscription(ctx context.Context, sub *models.Subscription, immediately bool) (*time.Time, error)
	ResumeSubscription(ctx context.Context, sub *models.Subscription) error
	GetManagementURL(ctx context.Context, customer *models.Customer, returnURL string) (string, error)
	// ResolvePaymentMethod dereferences a payment method, subscription or
	// payment ID. It returns nil without error when nothing resolves.
	ResolvePaymentMethod(ctx context.Context, opaqueID string) (*PaymentMethodInfo, error)
	VerifyAndParseWebhook(req WebhookRequest) (*NormalizedWebhookEvent, error)
}

// WebhookSubscriber is implemented by providers whose subscriptions start
// outside our checkout flow. An update for an unknown subscription then
// creates the row instead of being ignored.
type WebhookSubscriber interface {
	CreatesSubscriptionsFromWebhooks() bool
}

// CreatesSubscriptions reports whether a is a WebhookSubscriber that opted in.
func CreatesSubscriptions(a Adapter) bool {
	ws, ok := a.(WebhookSubscriber)
	return ok && ws.CreatesSubscriptionsFromWebhooks()
}

// CheckResumable fails with ErrExpiredSubscription unless the subscription
// has a scheduled end that is still in the future.
func CheckResumable(sub *models.Subscription, now time.Time) error {
	if sub.EndsAt == nil || !now.Before(*sub.EndsAt) {
		return ErrExpiredSubscription
	}
	return nil
}
