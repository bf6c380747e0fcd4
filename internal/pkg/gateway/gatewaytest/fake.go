// Package gatewaytest provides an in-memory gateway adapter for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

// SignatureHeader carries the shared secret verbatim; anything else fails.
const SignatureHeader = "X-Fake-Signature"

// Envelope is the wire format the fake adapter accepts.
type Envelope struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Object gateway.Payload `json:"object"`
}

// TypeMap translates fake provider types to canonical ones.
var TypeMap = map[string]gateway.EventType{
	"checkout.completed":   gateway.EventCheckoutCompleted,
	"subscription.updated": gateway.EventSubscriptionUpdated,
	"subscription.deleted": gateway.EventSubscriptionDeleted,
	"payment.succeeded":    gateway.EventPaymentSucceeded,
	"payment.failed":       gateway.EventPaymentFailed,
	"invoice.paid":         gateway.EventInvoicePaid,
}

type CancelCall struct {
	ProviderSubscriptionID string
	Immediately            bool
}

// Adapter records every remote call and returns canned results.
type Adapter struct {
	ProviderName  string
	Secret        string
	PeriodEnd     time.Time
	PaymentMethod *gateway.PaymentMethodInfo
	RemoteErr     error
	// WebhookSubscriptions makes updates for unknown subscriptions create rows.
	WebhookSubscriptions bool

	mu        sync.Mutex
	Customers []string
	Checkouts []gateway.CheckoutRequest
	Cancels   []CancelCall
	Resumes   []string
	Resolved  []string
}

func New(name, secret string) *Adapter {
	return &Adapter{ProviderName: name, Secret: secret, PeriodEnd: time.Now().Add(30 * 24 * time.Hour)}
}

func (a *Adapter) Name() string { return a.ProviderName }

func (a *Adapter) CreatesSubscriptionsFromWebhooks() bool { return a.WebhookSubscriptions }

func (a *Adapter) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RemoteErr != nil {
		return "", a.RemoteErr
	}
	a.Customers = append(a.Customers, email)
	return fmt.Sprintf("cus_fake_%d", len(a.Customers)), nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RemoteErr != nil {
		return nil, a.RemoteErr
	}
	a.Checkouts = append(a.Checkouts, req)
	id := fmt.Sprintf("cs_fake_%d", len(a.Checkouts))
	return &gateway.CheckoutResult{SessionID: id, URL: "https://pay.example.test/" + id}, nil
}

func (a *Adapter) CancelSubscription(ctx context.Context, sub *models.Subscription, immediately bool) (*time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RemoteErr != nil {
		return nil, a.RemoteErr
	}
	a.Cancels = append(a.Cancels, CancelCall{ProviderSubscriptionID: sub.ProviderSubscriptionID, Immediately: immediately})
	if immediately {
		return nil, nil
	}
	end := a.PeriodEnd
	return &end, nil
}

func (a *Adapter) ResumeSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := gateway.CheckResumable(sub, time.Now()); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RemoteErr != nil {
		return a.RemoteErr
	}
	a.Resumes = append(a.Resumes, sub.ProviderSubscriptionID)
	return nil
}

func (a *Adapter) GetManagementURL(ctx context.Context, customer *models.Customer, returnURL string) (string, error) {
	if a.RemoteErr != nil {
		return "", a.RemoteErr
	}
	return "https://portal.example.test/" + customer.ProviderCustomerID, nil
}

func (a *Adapter) ResolvePaymentMethod(ctx context.Context, opaqueID string) (*gateway.PaymentMethodInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.RemoteErr != nil {
		return nil, a.RemoteErr
	}
	a.Resolved = append(a.Resolved, opaqueID)
	return a.PaymentMethod, nil
}

func (a *Adapter) VerifyAndParseWebhook(req gateway.WebhookRequest) (*gateway.NormalizedWebhookEvent, error) {
	if req.Header.Get(SignatureHeader) != a.Secret {
		return nil, gateway.ErrInvalidSignature
	}
	var env Envelope
	if err := json.Unmarshal(req.Body, &env); err != nil {
		return nil, fmt.Errorf("decode fake event: %w", err)
	}
	if env.Object == nil {
		env.Object = gateway.Payload{}
	}
	return &gateway.NormalizedWebhookEvent{
		Type:              TypeMap[env.Type],
		Provider:          a.ProviderName,
		ProviderEventID:   env.ID,
		ProviderEventType: env.Type,
		Payload:           env.Object,
		Raw:               req.Body,
	}, nil
}

// Body marshals an envelope for a webhook request body.
func Body(id, eventType string, object map[string]any) []byte {
	b, _ := json.Marshal(Envelope{ID: id, Type: eventType, Object: object})
	return b
}
