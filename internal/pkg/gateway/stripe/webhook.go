package stripe

import (
	"errors"
	"fmt"

	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

// SignatureHeader is the header Stripe signs deliveries with.
const SignatureHeader = "Stripe-Signature"

var eventTypes = map[stripelib.EventType]gateway.EventType{
	"checkout.session.completed":    gateway.EventCheckoutCompleted,
	"customer.subscription.updated": gateway.EventSubscriptionUpdated,
	"customer.subscription.deleted": gateway.EventSubscriptionDeleted,
	"invoice.payment_succeeded":     gateway.EventPaymentSucceeded,
	"invoice.payment_failed":        gateway.EventPaymentFailed,
	"invoice.paid":                  gateway.EventInvoicePaid,
}

func (a *Adapter) VerifyAndParseWebhook(req gateway.WebhookRequest) (*gateway.NormalizedWebhookEvent, error) {
	sig := req.Header.Get(SignatureHeader)
	if sig == "" {
		return nil, fmt.Errorf("%w: missing %s header", gateway.ErrInvalidSignature, SignatureHeader)
	}

	event, err := webhook.ConstructEventWithOptions(req.Body, sig, a.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", gateway.ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
	}
	if event.ID == "" {
		return nil, fmt.Errorf("%w: event without id", gateway.ErrMalformedPayload)
	}

	object := gateway.Payload{}
	if event.Data != nil && len(event.Data.Raw) > 0 {
		if object, err = gateway.ParsePayload(event.Data.Raw); err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
		}
	}

	canonical := eventTypes[event.Type]
	return &gateway.NormalizedWebhookEvent{
		Type:              canonical,
		Provider:          Name,
		ProviderEventID:   event.ID,
		ProviderEventType: string(event.Type),
		Payload:           normalize(canonical, object),
		Raw:               req.Body,
	}, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrTooOld)
}

// normalize flattens a Stripe object into the canonical payload keys. Unmapped
// events keep the object untouched.
func normalize(t gateway.EventType, obj gateway.Payload) gateway.Payload {
	switch t {
	case gateway.EventCheckoutCompleted:
		return normalizeCheckout(obj)
	case gateway.EventSubscriptionUpdated, gateway.EventSubscriptionDeleted:
		return normalizeSubscription(obj)
	case gateway.EventPaymentSucceeded, gateway.EventPaymentFailed:
		return normalizePayment(t, obj)
	case gateway.EventInvoicePaid:
		return normalizeInvoice(obj)
	}
	return obj
}

func normalizeCheckout(obj gateway.Payload) gateway.Payload {
	out := gateway.Payload{}
	copyString(out, obj, "id", "id")
	copyString(out, obj, "customer", "customer")
	copyString(out, obj, "subscription", "subscription")
	copyString(out, obj, "payment_intent", "payment_intent")
	copyString(out, obj, "currency", "currency")
	copyString(out, obj, "client_reference_id", "client_reference_id")
	copyInt(out, obj, "amount_total", "amount_total")
	return out
}

func normalizeSubscription(obj gateway.Payload) gateway.Payload {
	out := gateway.Payload{}
	copyString(out, obj, "id", "id")
	copyString(out, obj, "customer", "customer")
	copyString(out, obj, "status", "status")
	if v, ok := obj.Bool("cancel_at_period_end"); ok {
		out.Set("cancel_at_period_end", v)
	}

	// Newer API versions moved the billing period onto the subscription items.
	item := first(obj, "items.data")
	copyInt(out, obj, "current_period_start", "current_period_start")
	copyInt(out, item, "current_period_start", "current_period_start")
	copyInt(out, obj, "current_period_end", "current_period_end")
	copyInt(out, item, "current_period_end", "current_period_end")
	copyInt(out, obj, "cancel_at", "cancel_at")
	copyString(out, item, "price", "price")
	return out
}

func normalizePayment(t gateway.EventType, invoice gateway.Payload) gateway.Payload {
	out := gateway.Payload{}
	copyString(out, invoice, "id", "payment_intent")
	copyString(out, first(invoice, "payments.data"), "id", "payment.payment_intent")
	copyString(out, invoice, "id", "charge")
	copyString(out, invoice, "id", "id")
	copyString(out, invoice, "invoice", "id")
	copyString(out, invoice, "customer", "customer")
	copySubscription(out, invoice)
	copyString(out, invoice, "payment_method", "default_payment_method")
	copyString(out, invoice, "currency", "currency")

	if t == gateway.EventPaymentSucceeded {
		copyInt(out, invoice, "amount", "amount_paid")
	} else {
		copyInt(out, invoice, "amount", "amount_due")
		copyPaymentError(out, invoice)
	}
	return out
}

// copyPaymentError reads the decline from the charge attempt. The invoice's
// own last_finalization_error only describes finalization and is the last
// resort.
func copyPaymentError(out, invoice gateway.Payload) {
	attempt := first(invoice, "payments.data")
	for _, src := range []struct {
		obj  gateway.Payload
		base string
	}{
		{invoice, "payment_intent.last_payment_error"},
		{attempt, "payment.payment_intent.last_payment_error"},
		{invoice, "last_payment_error"},
	} {
		copyString(out, src.obj, "failure_code", src.base+".code")
		copyString(out, src.obj, "failure_message", src.base+".message")
	}
	copyString(out, invoice, "failure_code", "charge.failure_code")
	copyString(out, invoice, "failure_message", "charge.failure_message")
	copyString(out, invoice, "failure_code", "last_finalization_error.code")
	copyString(out, invoice, "failure_message", "last_finalization_error.message")
}

func normalizeInvoice(invoice gateway.Payload) gateway.Payload {
	out := gateway.Payload{}
	copyString(out, invoice, "id", "id")
	copyString(out, invoice, "customer", "customer")
	copySubscription(out, invoice)
	copyString(out, invoice, "payment_intent", "payment_intent")
	copyString(out, first(invoice, "payments.data"), "payment_intent", "payment.payment_intent")
	copyString(out, invoice, "number", "number")
	copyString(out, invoice, "currency", "currency")
	copyString(out, invoice, "hosted_invoice_url", "hosted_invoice_url")
	copyInt(out, invoice, "subtotal", "subtotal")
	copyInt(out, invoice, "tax", "tax")
	copyInt(out, invoice, "total", "total")
	return out
}

// copySubscription reads the subscription reference from wherever the API
// version put it.
func copySubscription(out, invoice gateway.Payload) {
	copyString(out, invoice, "subscription", "subscription")
	copyString(out, invoice, "subscription", "parent.subscription_details.subscription")
	copyString(out, first(invoice, "lines.data"), "subscription", "subscription")
}

// copyString sets dst[key] from src at path unless dst already has a value.
func copyString(dst, src gateway.Payload, key, path string) {
	if _, exists := dst[key]; exists || src == nil {
		return
	}
	if v, ok := src.String(path); ok {
		dst.Set(key, v)
	}
}

func copyInt(dst, src gateway.Payload, key, path string) {
	if _, exists := dst[key]; exists || src == nil {
		return
	}
	if v, ok := src.Int64(path); ok {
		dst.Set(key, v)
	}
}

// first returns the first element of a list object at path.
func first(p gateway.Payload, path string) gateway.Payload {
	v, ok := p.Lookup(path)
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil
	}
	m, ok := list[0].(map[string]any)
	if !ok {
		return nil
	}
	return gateway.Payload(m)
}
