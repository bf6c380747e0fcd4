package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

// reconciler applies one event within the webhook transaction. Every write is
// keyed by a provider ID so a retry after a partial failure converges.
type reconciler struct {
	ctx     context.Context
	repos   *repository.Repositories
	adapter gateway.Adapter
	event   *gateway.NormalizedWebhookEvent
	now     time.Time
	log     *Logger
}

func (r *reconciler) dispatch() ([]Event, error) {
	switch r.event.Type {
	case gateway.EventCheckoutCompleted:
		return r.checkoutCompleted()
	case gateway.EventSubscriptionUpdated:
		return r.subscriptionUpdated()
	case gateway.EventSubscriptionDeleted:
		return r.subscriptionDeleted()
	case gateway.EventPaymentSucceeded:
		return r.paymentSettled(true)
	case gateway.EventPaymentFailed:
		return r.paymentSettled(false)
	case gateway.EventInvoicePaid:
		return r.invoicePaid()
	}
	return nil, nil
}

func (r *reconciler) newEvent(name EventName) Event {
	return Event{
		Name:            name,
		Provider:        r.event.Provider,
		ProviderEventID: r.event.ProviderEventID,
		OccurredAt:      r.now,
	}
}

func (r *reconciler) ignore(reason string, args ...any) ([]Event, error) {
	r.log.Infof("Ignoring %s event %s: %s", r.event.Type, r.event.ProviderEventID, fmt.Sprintf(reason, args...))
	return nil, nil
}

func (r *reconciler) checkoutCompleted() ([]Event, error) {
	p := r.event.Payload
	sessionID, ok := p.String("id")
	if !ok {
		return r.ignore("payload has no session id")
	}
	session, err := r.repos.CheckoutSession.GetByProviderSessionID(sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.ignore("unknown checkout session %s", sessionID)
	}
	if err != nil {
		return nil, err
	}

	if session.IsTerminal() {
		r.log.Infof("Checkout session %s already %s, leaving it unchanged", session.UUID, session.Status)
	} else {
		completedAt := r.now
		session.Status = models.CheckoutStatusCompleted
		session.CompletedAt = &completedAt
		if err := r.repos.CheckoutSession.Update(session); err != nil {
			return nil, err
		}
	}

	customer, err := r.checkoutCustomer(session)
	if err != nil {
		return nil, err
	}

	var events []Event
	switch {
	case customer == nil:
		r.log.Warnf("Checkout session %s has no customer, nothing to attach", session.UUID)
	case hasString(p, "subscription"):
		subscriptionID, _ := p.String("subscription")
		priceID := session.PriceID
		startsAt := r.now
		sub := &models.Subscription{
			CustomerID:             customer.ID,
			PriceID:                &priceID,
			Provider:               r.event.Provider,
			ProviderSubscriptionID: subscriptionID,
			Status:                 models.SubscriptionStatusActive,
			CurrentPeriodStartsAt:  &startsAt,
		}
		created, err := r.repos.Subscription.CreateIfNotExists(sub)
		if err != nil {
			return nil, err
		}
		if created {
			events = append(events, r.subscriptionEvent(EventSubscriptionCreated, sub, customer))
		}
	case hasString(p, "payment_intent"):
		paymentID, _ := p.String("payment_intent")
		price, err := r.repos.Price.GetByID(session.PriceID)
		if err != nil {
			return nil, err
		}
		amount, ok := p.Int64("amount_total")
		if !ok {
			amount = price.Amount
		}
		currency, ok := p.String("currency")
		if !ok {
			currency = price.Currency
		}
		priceID := price.ID
		payment := &models.Payment{
			CustomerID:        customer.ID,
			PriceID:           &priceID,
			Provider:          r.event.Provider,
			ProviderPaymentID: paymentID,
			Amount:            amount,
			Currency:          currency,
			Status:            models.PaymentStatusSucceeded,
			Metadata:          datatypes.JSONMap{"checkout_session": session.UUID},
		}
		created, err := r.repos.Payment.CreateIfNotExists(payment)
		if err != nil {
			return nil, err
		}
		if created {
			events = append(events, r.paymentEvent(EventPaymentSucceeded, payment, customer))
		}
	}

	completed := r.newEvent(EventCheckoutCompleted)
	completed.CheckoutSessionID = session.UUID
	if customer != nil {
		completed.CustomerID = customer.ID
		completed.UserID = customer.UserID
	}
	if amount, ok := p.Int64("amount_total"); ok {
		completed.Amount = amount
	}
	completed.Currency, _ = p.String("currency")
	return append(events, completed), nil
}

// checkoutCustomer returns the customer bound to the session, falling back to
// the provider customer reference in the payload.
func (r *reconciler) checkoutCustomer(session *models.CheckoutSession) (*models.Customer, error) {
	if session.CustomerID != nil {
		c, err := r.repos.Customer.GetByID(*session.CustomerID)
		if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) {
			return c, err
		}
	}
	return r.customerFromPayload()
}

func (r *reconciler) customerFromPayload() (*models.Customer, error) {
	ref, ok := r.event.Payload.String("customer")
	if !ok {
		return nil, nil
	}
	c, err := r.repos.Customer.GetByProviderCustomerID(ref)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return c, err
}

func (r *reconciler) subscriptionFromPayload(key string) (*models.Subscription, error) {
	ref, ok := r.event.Payload.String(key)
	if !ok {
		return nil, nil
	}
	sub, err := r.repos.Subscription.GetByProviderSubscriptionID(ref)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return sub, err
}

func (r *reconciler) subscriptionUpdated() ([]Event, error) {
	p := r.event.Payload
	sub, err := r.subscriptionFromPayload("id")
	if err != nil {
		return nil, err
	}
	if sub == nil {
		if !gateway.CreatesSubscriptions(r.adapter) {
			return r.ignore("unknown subscription")
		}
		events, created, err := r.subscriptionFromWebhook()
		if err != nil || created {
			return events, err
		}
		// Lost the insert race; apply the update to the winner's row.
		if sub, err = r.subscriptionFromPayload("id"); err != nil {
			return nil, err
		}
		if sub == nil {
			return r.ignore("unknown subscription")
		}
	}

	previous := sub.Status
	if status, ok := p.String("status"); ok {
		sub.Status = MapProviderStatus(status, sub.Status)
	}

	// Partial update: absent timestamps leave the stored values alone.
	if start, ok := p.Time("current_period_start"); ok {
		start = start.UTC()
		sub.CurrentPeriodStartsAt = &start
	}
	periodEnd, hasPeriodEnd := p.Time("current_period_end")
	if hasPeriodEnd {
		periodEnd = periodEnd.UTC()
		sub.CurrentPeriodEndsAt = &periodEnd
	}

	if cancelAtPeriodEnd, ok := p.Bool("cancel_at_period_end"); ok {
		switch {
		case cancelAtPeriodEnd:
			if sub.CancelledAt == nil {
				cancelledAt := r.now
				sub.CancelledAt = &cancelledAt
			}
			sub.EndsAt = scheduledEnd(p)
		case sub.CancelledAt != nil && sub.Status != models.SubscriptionStatusCancelled:
			// Resumed on the provider side.
			sub.CancelledAt = nil
			sub.EndsAt = nil
		}
	}

	if sub.Status == models.SubscriptionStatusCancelled && previous != models.SubscriptionStatusCancelled {
		if sub.CancelledAt == nil {
			cancelledAt := r.now
			sub.CancelledAt = &cancelledAt
		}
		if sub.EndsAt == nil {
			endsAt := r.now
			sub.EndsAt = &endsAt
		}
	}

	if err := r.repos.Subscription.Update(sub); err != nil {
		return nil, err
	}
	customer, err := r.repos.Customer.GetByID(sub.CustomerID)
	if err != nil {
		return nil, err
	}
	return []Event{r.subscriptionEvent(EventSubscriptionUpdated, sub, customer)}, nil
}

// subscriptionFromWebhook records a subscription first seen through a
// provider notification. created is false when no row was written.
func (r *reconciler) subscriptionFromWebhook() ([]Event, bool, error) {
	p := r.event.Payload
	subscriptionID, ok := p.String("id")
	if !ok {
		events, err := r.ignore("payload has no subscription id")
		return events, false, err
	}
	customer, err := r.customerFromPayload()
	if err != nil {
		return nil, false, err
	}
	if customer == nil {
		events, err := r.ignore("subscription %s cannot be attributed to a customer", subscriptionID)
		return events, false, err
	}

	sub := &models.Subscription{
		CustomerID:             customer.ID,
		Provider:               r.event.Provider,
		ProviderSubscriptionID: subscriptionID,
		Status:                 models.SubscriptionStatusActive,
	}
	if status, ok := p.String("status"); ok {
		sub.Status = MapProviderStatus(status, sub.Status)
	}
	if ref, ok := p.String("price"); ok {
		price, err := r.repos.Price.GetByProviderPriceID(r.event.Provider, ref)
		switch {
		case err == nil:
			sub.PriceID = &price.ID
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return nil, false, err
		}
	}
	if start, ok := p.Time("current_period_start"); ok {
		start = start.UTC()
		sub.CurrentPeriodStartsAt = &start
	} else {
		start := r.now
		sub.CurrentPeriodStartsAt = &start
	}
	if end, ok := p.Time("current_period_end"); ok {
		end = end.UTC()
		sub.CurrentPeriodEndsAt = &end
	}
	if sub.Status == models.SubscriptionStatusCancelled {
		at := r.now
		sub.CancelledAt = &at
		sub.EndsAt = &at
	}

	created, err := r.repos.Subscription.CreateIfNotExists(sub)
	if err != nil || !created {
		return nil, false, err
	}
	r.log.Infof("Subscription %s created from %s webhook for customer %d", subscriptionID, r.event.Provider, customer.ID)
	return []Event{r.subscriptionEvent(EventSubscriptionCreated, sub, customer)}, true, nil
}

// scheduledEnd prefers an explicit cancel_at over the period end.
func scheduledEnd(p gateway.Payload) *time.Time {
	for _, key := range []string{"cancel_at", "current_period_end"} {
		if t, ok := p.Time(key); ok {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func (r *reconciler) subscriptionDeleted() ([]Event, error) {
	sub, err := r.subscriptionFromPayload("id")
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return r.ignore("unknown subscription")
	}

	endedAt := r.now
	sub.Status = models.SubscriptionStatusCancelled
	sub.CancelledAt = &endedAt
	sub.EndsAt = &endedAt
	if err := r.repos.Subscription.Update(sub); err != nil {
		return nil, err
	}
	customer, err := r.repos.Customer.GetByID(sub.CustomerID)
	if err != nil {
		return nil, err
	}
	return []Event{r.subscriptionEvent(EventSubscriptionCancelled, sub, customer)}, nil
}

func (r *reconciler) paymentSettled(succeeded bool) ([]Event, error) {
	p := r.event.Payload
	customer, err := r.customerFromPayload()
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return r.ignore("payment cannot be attributed to a customer")
	}
	paymentID, ok := p.String("id")
	if !ok {
		return r.ignore("payload has no payment id")
	}
	sub, err := r.subscriptionFromPayload("subscription")
	if err != nil {
		return nil, err
	}

	payment := &models.Payment{
		CustomerID:        customer.ID,
		Provider:          r.event.Provider,
		ProviderPaymentID: paymentID,
		Status:            models.PaymentStatusSucceeded,
	}
	payment.Amount, _ = p.Int64("amount")
	payment.Currency, _ = p.String("currency")
	if sub != nil {
		payment.SubscriptionID = &sub.ID
		payment.PriceID = sub.PriceID
	}
	if invoiceID, ok := p.String("invoice"); ok {
		payment.Metadata = datatypes.JSONMap{"invoice": invoiceID}
	}
	if !succeeded {
		payment.Status = models.PaymentStatusFailed
		payment.FailureCode, _ = p.String("failure_code")
		payment.FailureMessage, _ = p.String("failure_message")
	}

	incoming := *payment
	created, err := r.repos.Payment.CreateIfNotExists(payment)
	if err != nil {
		return nil, err
	}
	if !created {
		// A retried charge reuses the payment ID of the failed attempt.
		// Succeeded and refunded are final; otherwise the newer outcome wins.
		if payment.Status == incoming.Status || payment.Status == models.PaymentStatusSucceeded || payment.Status == models.PaymentStatusRefunded {
			return r.ignore("payment %s already recorded as %s", paymentID, payment.Status)
		}
		r.log.Infof("Payment %s moves %s -> %s", paymentID, payment.Status, incoming.Status)
		settlePayment(payment, &incoming)
		if err := r.repos.Payment.Update(payment); err != nil {
			return nil, err
		}
	}

	if sub != nil {
		if err := r.applyPaymentOutcome(sub, succeeded); err != nil {
			return nil, err
		}
	}

	if succeeded {
		if err := r.capturePaymentMethod(customer, paymentID); err != nil {
			return nil, err
		}
		ev := r.paymentEvent(EventPaymentSucceeded, payment, customer)
		if sub != nil {
			ev.SubscriptionStatus = sub.Status
		}
		return []Event{ev}, nil
	}

	ev := r.paymentEvent(EventPaymentFailed, payment, customer)
	ev.FailureMessage = payment.FailureMessage
	if sub != nil {
		ev.SubscriptionStatus = sub.Status
	}
	return []Event{ev}, nil
}

// settlePayment copies the outcome of a later attempt onto the stored row.
func settlePayment(stored, next *models.Payment) {
	stored.Status = next.Status
	stored.FailureCode = next.FailureCode
	stored.FailureMessage = next.FailureMessage
	if next.Amount != 0 {
		stored.Amount = next.Amount
	}
	if next.Currency != "" {
		stored.Currency = next.Currency
	}
	if stored.SubscriptionID == nil && next.SubscriptionID != nil {
		stored.SubscriptionID = next.SubscriptionID
		stored.PriceID = next.PriceID
	}
}

// applyPaymentOutcome recovers a past_due subscription on success and marks
// it past_due on failure. Cancelled subscriptions are left alone.
func (r *reconciler) applyPaymentOutcome(sub *models.Subscription, succeeded bool) error {
	next := sub.Status
	switch {
	case succeeded && sub.Status == models.SubscriptionStatusPastDue:
		next = models.SubscriptionStatusActive
	case !succeeded && sub.Status != models.SubscriptionStatusCancelled:
		next = models.SubscriptionStatusPastDue
	}
	if next == sub.Status {
		return nil
	}
	r.log.Infof("Subscription %s moves %s -> %s", sub.ProviderSubscriptionID, sub.Status, next)
	sub.Status = next
	return r.repos.Subscription.Update(sub)
}

// capturePaymentMethod stores the instrument behind a successful payment.
func (r *reconciler) capturePaymentMethod(customer *models.Customer, paymentID string) error {
	ref, ok := r.event.Payload.String("payment_method")
	if !ok {
		ref = paymentID
	}
	info, err := r.adapter.ResolvePaymentMethod(r.ctx, ref)
	if err != nil {
		return fmt.Errorf("resolve payment method %s: %w", ref, err)
	}
	if info == nil {
		return nil
	}
	return r.repos.Customer.UpsertPaymentMethod(&models.PaymentMethod{
		CustomerID:              customer.ID,
		Provider:                r.event.Provider,
		ProviderPaymentMethodID: info.ProviderPaymentMethodID,
		Type:                    info.Type,
		Brand:                   info.Brand,
		Last4:                   info.Last4,
		ExpMonth:                info.ExpMonth,
		ExpYear:                 info.ExpYear,
	})
}

func (r *reconciler) invoicePaid() ([]Event, error) {
	p := r.event.Payload
	customer, err := r.customerFromPayload()
	if err != nil {
		return nil, err
	}
	if customer == nil {
		return r.ignore("invoice cannot be attributed to a customer")
	}
	invoiceID, ok := p.String("id")
	if !ok {
		return r.ignore("payload has no invoice id")
	}

	existing, err := r.repos.Invoice.GetByProviderInvoiceID(invoiceID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	alreadyPaid := existing != nil && existing.Status == models.InvoiceStatusPaid

	invoice := &models.Invoice{
		CustomerID:        customer.ID,
		Provider:          r.event.Provider,
		ProviderInvoiceID: invoiceID,
		Status:            models.InvoiceStatusPaid,
	}
	invoice.Number, _ = p.String("number")
	invoice.Currency, _ = p.String("currency")
	invoice.HostedURL, _ = p.String("hosted_invoice_url")
	invoice.Subtotal, _ = p.Int64("subtotal")
	invoice.Tax, _ = p.Int64("tax")
	invoice.Total, _ = p.Int64("total")

	paidAt := r.now
	if alreadyPaid && existing.PaidAt != nil {
		paidAt = *existing.PaidAt
	}
	invoice.PaidAt = &paidAt

	sub, err := r.subscriptionFromPayload("subscription")
	if err != nil {
		return nil, err
	}
	if sub != nil {
		invoice.SubscriptionID = &sub.ID
	}
	if ref, ok := p.String("payment_intent"); ok {
		payment, err := r.repos.Payment.GetByProviderPaymentID(ref)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if payment != nil {
			invoice.PaymentID = &payment.ID
		}
	}

	if err := r.repos.Invoice.Upsert(invoice); err != nil {
		return nil, err
	}
	if alreadyPaid {
		return r.ignore("invoice %s was already paid", invoiceID)
	}

	ev := r.newEvent(EventInvoicePaid)
	ev.UserID = customer.UserID
	ev.CustomerID = customer.ID
	ev.InvoiceID = invoice.ID
	ev.Amount = invoice.Total
	ev.Currency = invoice.Currency
	if sub != nil {
		ev.SubscriptionID = sub.ID
	}
	return []Event{ev}, nil
}

func (r *reconciler) subscriptionEvent(name EventName, sub *models.Subscription, customer *models.Customer) Event {
	ev := r.newEvent(name)
	ev.SubscriptionID = sub.ID
	ev.SubscriptionStatus = sub.Status
	ev.CustomerID = sub.CustomerID
	if customer != nil {
		ev.UserID = customer.UserID
	}
	return ev
}

func (r *reconciler) paymentEvent(name EventName, payment *models.Payment, customer *models.Customer) Event {
	ev := r.newEvent(name)
	ev.PaymentID = payment.ID
	ev.CustomerID = customer.ID
	ev.UserID = customer.UserID
	ev.Amount = payment.Amount
	ev.Currency = payment.Currency
	if payment.SubscriptionID != nil {
		ev.SubscriptionID = *payment.SubscriptionID
	}
	return ev
}

func hasString(p gateway.Payload, key string) bool {
	_, ok := p.String(key)
	return ok
}
