// Package stripe implements the gateway adapter for Stripe.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/config"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

const Name = models.BillingProviderStripe

// Adapter talks to the Stripe API through its own client, so two adapters
// with different keys never share the package-level stripe.Key. The remote
// calls are function fields so tests can replace them without a network.
type Adapter struct {
	webhookSecret string

	createCustomer     func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	createCheckout     func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
	createPortal       func(params *stripelib.BillingPortalSessionParams) (*stripelib.BillingPortalSession, error)
	updateSubscription func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	cancelSubscription func(id string, params *stripelib.SubscriptionCancelParams) (*stripelib.Subscription, error)
	getSubscription    func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	getPaymentMethod   func(id string, params *stripelib.PaymentMethodParams) (*stripelib.PaymentMethod, error)
	getPaymentIntent   func(id string, params *stripelib.PaymentIntentParams) (*stripelib.PaymentIntent, error)
	now                func() time.Time
}

// New builds an adapter from the gateway configuration. A webhook secret is
// mandatory; the API key may be empty for webhook-only deployments.
func New(cfg config.Gateway) (*Adapter, error) {
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, fmt.Errorf("stripe: webhook secret not configured")
	}
	if strings.TrimSpace(cfg.SecretKey) == "" {
		log.Warnf("[Stripe] No API key configured, remote operations will fail")
	}
	api := &client.API{}
	api.Init(strings.TrimSpace(cfg.SecretKey), nil)
	return &Adapter{
		webhookSecret:      strings.TrimSpace(cfg.WebhookSecret),
		createCustomer:     api.Customers.New,
		createCheckout:     api.CheckoutSessions.New,
		createPortal:       api.BillingPortalSessions.New,
		updateSubscription: api.Subscriptions.Update,
		cancelSubscription: api.Subscriptions.Cancel,
		getSubscription:    api.Subscriptions.Get,
		getPaymentMethod:   api.PaymentMethods.Get,
		getPaymentIntent:   api.PaymentIntents.Get,
		now:                func() time.Time { return time.Now().UTC() },
	}, nil
}

// Factory registers the adapter with a gateway.Registry.
func Factory(cfg config.Gateway) (gateway.Adapter, error) {
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	params := &stripelib.CustomerParams{
		Email: stripelib.String(email),
	}
	if name != "" {
		params.Name = stripelib.String(name)
	}
	params.Context = ctx

	c, err := a.createCustomer(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	return c.ID, nil
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutResult, error) {
	if req.Customer == nil || req.Price == nil {
		return nil, fmt.Errorf("stripe: checkout requires customer and price")
	}

	mode := stripelib.CheckoutSessionModePayment
	if req.Price.IsRecurring() {
		mode = stripelib.CheckoutSessionModeSubscription
	}

	params := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(mode)),
		Customer:   stripelib.String(req.Customer.ProviderCustomerID),
		SuccessURL: stripelib.String(req.SuccessURL),
		CancelURL:  stripelib.String(req.CancelURL),
		LineItems:  []*stripelib.CheckoutSessionLineItemParams{lineItem(req.Price)},
	}
	if req.ClientReference != "" {
		params.ClientReferenceID = stripelib.String(req.ClientReference)
		params.AddMetadata("checkout_session", req.ClientReference)
	}
	if req.Coupon != "" {
		params.Discounts = []*stripelib.CheckoutSessionDiscountParams{
			{Coupon: stripelib.String(req.Coupon)},
		}
	}
	params.Context = ctx

	s, err := a.createCheckout(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &gateway.CheckoutResult{SessionID: s.ID, URL: s.URL}, nil
}

// lineItem references the Stripe price when one is linked, otherwise it
// sends the local amount inline.
func lineItem(price *models.Price) *stripelib.CheckoutSessionLineItemParams {
	item := &stripelib.CheckoutSessionLineItemParams{Quantity: stripelib.Int64(1)}
	if price.ProviderPriceID != "" {
		item.Price = stripelib.String(price.ProviderPriceID)
		return item
	}

	productName := fmt.Sprintf("Price %d", price.ID)
	if price.Product != nil && price.Product.Name != "" {
		productName = price.Product.Name
	}
	data := &stripelib.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripelib.String(strings.ToLower(price.Currency)),
		UnitAmount: stripelib.Int64(price.Amount),
		ProductData: &stripelib.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripelib.String(productName),
		},
	}
	if price.IsRecurring() {
		count := int64(price.IntervalCount)
		if count < 1 {
			count = 1
		}
		data.Recurring = &stripelib.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval:      stripelib.String(*price.Interval),
			IntervalCount: stripelib.Int64(count),
		}
	}
	item.PriceData = data
	return item
}

func (a *Adapter) CancelSubscription(ctx context.Context, sub *models.Subscription, immediately bool) (*time.Time, error) {

	if immediately {
		params := &stripelib.SubscriptionCancelParams{}
		params.Context = ctx
		if _, err := a.cancelSubscription(sub.ProviderSubscriptionID, params); err != nil {
			return nil, fmt.Errorf("stripe: cancel subscription %s: %w", sub.ProviderSubscriptionID, err)
		}
		return nil, nil
	}

	params := &stripelib.SubscriptionParams{CancelAtPeriodEnd: stripelib.Bool(true)}
	params.Context = ctx
	remote, err := a.updateSubscription(sub.ProviderSubscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: schedule cancellation %s: %w", sub.ProviderSubscriptionID, err)
	}

	if end, ok := scheduledEnd(remote); ok {
		return &end, nil
	}
	if sub.CurrentPeriodEndsAt != nil {
		end := *sub.CurrentPeriodEndsAt
		return &end, nil
	}
	return nil, fmt.Errorf("stripe: subscription %s has no period end", sub.ProviderSubscriptionID)
}

func scheduledEnd(s *stripelib.Subscription) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	if s.CancelAt > 0 {
		return time.Unix(s.CancelAt, 0).UTC(), true
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].CurrentPeriodEnd > 0 {
		return time.Unix(s.Items.Data[0].CurrentPeriodEnd, 0).UTC(), true
	}
	return time.Time{}, false
}

func (a *Adapter) ResumeSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := gateway.CheckResumable(sub, a.now()); err != nil {
		return err
	}

	params := &stripelib.SubscriptionParams{CancelAtPeriodEnd: stripelib.Bool(false)}
	params.Context = ctx
	if _, err := a.updateSubscription(sub.ProviderSubscriptionID, params); err != nil {
		return fmt.Errorf("stripe: resume subscription %s: %w", sub.ProviderSubscriptionID, err)
	}
	return nil
}

func (a *Adapter) GetManagementURL(ctx context.Context, c *models.Customer, returnURL string) (string, error) {
	params := &stripelib.BillingPortalSessionParams{
		Customer: stripelib.String(c.ProviderCustomerID),
	}
	if returnURL != "" {
		params.ReturnURL = stripelib.String(returnURL)
	}
	params.Context = ctx

	s, err := a.createPortal(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create portal session: %w", err)
	}
	return s.URL, nil
}

// ResolvePaymentMethod follows the ID prefix: payment methods are fetched
// directly, subscriptions and payment intents are expanded to their method.
func (a *Adapter) ResolvePaymentMethod(ctx context.Context, opaqueID string) (*gateway.PaymentMethodInfo, error) {
	id := strings.TrimSpace(opaqueID)
	if id == "" {
		return nil, nil
	}

	var (
		pm  *stripelib.PaymentMethod
		err error
	)
	switch {
	case strings.HasPrefix(id, "pm_"), strings.HasPrefix(id, "card_"):
		params := &stripelib.PaymentMethodParams{}
		params.Context = ctx
		pm, err = a.getPaymentMethod(id, params)
	case strings.HasPrefix(id, "sub_"):
		params := &stripelib.SubscriptionParams{}
		params.Context = ctx
		params.AddExpand("default_payment_method")
		var s *stripelib.Subscription
		if s, err = a.getSubscription(id, params); err == nil && s != nil {
			pm = s.DefaultPaymentMethod
		}
	case strings.HasPrefix(id, "pi_"):
		params := &stripelib.PaymentIntentParams{}
		params.Context = ctx
		params.AddExpand("payment_method")
		var pi *stripelib.PaymentIntent
		if pi, err = a.getPaymentIntent(id, params); err == nil && pi != nil {
			pm = pi.PaymentMethod
		}
	default:
		return nil, nil
	}

	if err != nil {
		var stripeErr *stripelib.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripelib.ErrorCodeResourceMissing {
			return nil, nil
		}
		return nil, fmt.Errorf("stripe: resolve payment method %s: %w", id, err)
	}
	if pm == nil || pm.ID == "" {
		return nil, nil
	}
	return toPaymentMethodInfo(pm), nil
}

func toPaymentMethodInfo(pm *stripelib.PaymentMethod) *gateway.PaymentMethodInfo {
	info := &gateway.PaymentMethodInfo{
		ProviderPaymentMethodID: pm.ID,
		Type:                    string(pm.Type),
	}
	if pm.Card != nil {
		info.Brand = string(pm.Card.Brand)
		info.Last4 = pm.Card.Last4
		info.ExpMonth = int(pm.Card.ExpMonth)
		info.ExpYear = int(pm.Card.ExpYear)
	}
	return info
}
