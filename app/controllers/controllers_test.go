package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
	"github.com/ManuelReschke/billingsync/internal/pkg/usercontext"
)

type stubProcessor struct {
	result   *billing.Result
	err      error
	provider string
	req      gateway.WebhookRequest
}

func (s *stubProcessor) HandleWebhook(ctx context.Context, provider string, req gateway.WebhookRequest) (*billing.Result, error) {
	s.provider = provider
	s.req = req
	return s.result, s.err
}

type stubService struct {
	err error

	session  *models.CheckoutSession
	redirect *billing.CheckoutRedirect
	sub      *models.Subscription
	subs     []models.Subscription
	price    *models.Price
	url      string

	gotUserID      uint
	gotImmediately bool
	gotBuyer       billing.BuyerDetails
	gotAmount      int64
}

func (s *stubService) CreateCheckout(ctx context.Context, priceID uint, userID uint) (*models.CheckoutSession, error) {
	s.gotUserID = userID
	return s.session, s.err
}

func (s *stubService) SubmitCheckout(ctx context.Context, sessionUUID string, userID uint, in billing.BuyerDetails) (*billing.CheckoutRedirect, error) {
	s.gotUserID = userID
	s.gotBuyer = in
	return s.redirect, s.err
}

func (s *stubService) CancelSubscription(ctx context.Context, userID, subscriptionID uint, immediately bool) (*models.Subscription, error) {
	s.gotUserID = userID
	s.gotImmediately = immediately
	return s.sub, s.err
}

func (s *stubService) ResumeSubscription(ctx context.Context, userID, subscriptionID uint) (*models.Subscription, error) {
	s.gotUserID = userID
	return s.sub, s.err
}

func (s *stubService) ManagementURL(ctx context.Context, userID uint) (string, error) {
	s.gotUserID = userID
	return s.url, s.err
}

func (s *stubService) ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	s.gotUserID = userID
	return s.subs, s.err
}

func (s *stubService) SupersedePrice(ctx context.Context, priceID uint, newAmount int64) (*models.Price, error) {
	s.gotAmount = newAmount
	return s.price, s.err
}

func newBillingApp(svc BillingService, uc usercontext.UserContext) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		usercontext.Set(c, uc)
		return c.Next()
	})
	bc := NewBillingController(svc)
	app.Post("/checkout", bc.HandleCreateCheckout)
	app.Post("/checkout/:id/submit", bc.HandleSubmitCheckout)
	app.Get("/subscriptions", bc.HandleListSubscriptions)
	app.Post("/subscriptions/:id/cancel", bc.HandleCancelSubscription)
	app.Post("/subscriptions/:id/resume", bc.HandleResumeSubscription)
	app.Get("/portal", bc.HandlePortal)
	app.Post("/prices/:id/supersede", bc.HandleSupersedePrice)
	return app
}

var loggedIn = usercontext.UserContext{UserID: 7, Username: "jane", IsLoggedIn: true}

func doJSON(t *testing.T, app *fiber.App, method, path string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]interface{}{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func TestHandleWebhook(t *testing.T) {
	tests := []struct {
		name   string
		result *billing.Result
		err    error
		want   int
	}{
		{"processed", &billing.Result{Provider: "stripe", EventType: "PaymentSucceeded"}, nil, fiber.StatusNoContent},
		{"duplicate", &billing.Result{Provider: "stripe", EventType: "PaymentSucceeded", Duplicate: true}, nil, fiber.StatusNoContent},
		{"ignored", &billing.Result{Provider: "stripe", EventType: "ignored", Ignored: true}, nil, fiber.StatusNoContent},
		{"bad signature", nil, fmt.Errorf("stripe: %w", billing.ErrInvalidSignature), fiber.StatusBadRequest},
		{"malformed", nil, billing.ErrMalformedPayload, fiber.StatusBadRequest},
		{"unknown gateway", nil, fmt.Errorf("paddle: %w", billing.ErrGatewayNotFound), fiber.StatusNotFound},
		{"disabled gateway", nil, billing.ErrGatewayNotEnabled, fiber.StatusNotFound},
		{"processing error", nil, errors.New("deadlock"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &stubProcessor{result: tt.result, err: tt.err}
			app := fiber.New()
			app.Post("/billing/webhooks/:provider", NewWebhookController(proc).HandleWebhook)

			req := httptest.NewRequest(fiber.MethodPost, "/billing/webhooks/stripe", bytes.NewBufferString(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Empty(t, body, "webhook responses carry no detail")

			assert.Equal(t, "stripe", proc.provider)
			assert.Equal(t, `{"id":"evt_1"}`, string(proc.req.Body))
			assert.Equal(t, "t=1,v1=abc", proc.req.Header.Get("Stripe-Signature"))
		})
	}
}

func TestHandleCreateCheckout(t *testing.T) {
	expires := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := &stubService{session: &models.CheckoutSession{UUID: "abc", Status: models.CheckoutStatusPending, ExpiresAt: expires}}
	app := newBillingApp(svc, loggedIn)

	resp, body := doJSON(t, app, fiber.MethodPost, "/checkout", fiber.Map{"price_id": 3})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, "abc", body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, expires.Format(time.RFC3339), body["expires_at"])
	assert.Equal(t, uint(7), svc.gotUserID)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/checkout", fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleCreateCheckoutAnonymous(t *testing.T) {
	svc := &stubService{session: &models.CheckoutSession{UUID: "abc", Status: models.CheckoutStatusPending}}
	app := newBillingApp(svc, usercontext.Anonymous)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/checkout", fiber.Map{"price_id": 3})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Zero(t, svc.gotUserID)
}

func TestBillingErrorStatuses(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{billing.ErrPriceNotFound, fiber.StatusNotFound},
		{billing.ErrCheckoutNotFound, fiber.StatusNotFound},
		{billing.ErrSubscriptionNotFound, fiber.StatusNotFound},
		{billing.ErrCustomerNotFound, fiber.StatusNotFound},
		{billing.ErrPriceUnavailable, fiber.StatusUnprocessableEntity},
		{&billing.ValidationError{Fields: map[string]string{"email": "is required"}}, fiber.StatusUnprocessableEntity},
		{billing.ErrCheckoutGone, fiber.StatusGone},
		{billing.ErrCheckoutForbidden, fiber.StatusForbidden},
		{billing.ErrAlreadySubscribed, fiber.StatusConflict},
		{fmt.Errorf("resume: %w", billing.ErrExpiredSubscription), fiber.StatusUnprocessableEntity},
		{billing.ErrUnsupported, fiber.StatusNotImplemented},
		{errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			app := newBillingApp(&stubService{err: tt.err}, loggedIn)
			resp, body := doJSON(t, app, fiber.MethodPost, "/checkout/abc/submit", fiber.Map{"name": "Jane"})
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, body["message"])
		})
	}
}

func TestHandleSubmitCheckout(t *testing.T) {
	svc := &stubService{redirect: &billing.CheckoutRedirect{URL: "https://pay.example/cs_1", ProviderSessionID: "cs_1"}}
	app := newBillingApp(svc, loggedIn)

	resp, body := doJSON(t, app, fiber.MethodPost, "/checkout/abc/submit", fiber.Map{
		"name":    "Jane Doe",
		"email":   "jane@example.com",
		"country": "DE",
		"coupon":  "WELCOME",
	})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://pay.example/cs_1", body["url"])
	assert.Equal(t, "cs_1", body["provider_session_id"])
	assert.Equal(t, "Jane Doe", svc.gotBuyer.Name)
	assert.Equal(t, "DE", svc.gotBuyer.Country)
	assert.Equal(t, "WELCOME", svc.gotBuyer.Coupon)
}

func TestHandleSubmitCheckoutValidationFields(t *testing.T) {
	svc := &stubService{err: &billing.ValidationError{Fields: map[string]string{"email": "is required"}}}
	app := newBillingApp(svc, loggedIn)

	resp, body := doJSON(t, app, fiber.MethodPost, "/checkout/abc/submit", fiber.Map{"name": "Jane"})
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	fields, ok := body["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "is required", fields["email"])
}

func TestHandleCancelSubscription(t *testing.T) {
	svc := &stubService{sub: &models.Subscription{ID: 5, Status: models.SubscriptionStatusActive}}
	app := newBillingApp(svc, loggedIn)

	resp, body := doJSON(t, app, fiber.MethodPost, "/subscriptions/5/cancel", fiber.Map{"immediately": true})
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(5), body["id"])
	assert.True(t, svc.gotImmediately)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/subscriptions/5/cancel", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.False(t, svc.gotImmediately, "an empty body cancels at period end")

	resp, _ = doJSON(t, app, fiber.MethodPost, "/subscriptions/abc/cancel", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleResumeSubscription(t *testing.T) {
	app := newBillingApp(&stubService{sub: &models.Subscription{ID: 5}}, loggedIn)
	resp, _ := doJSON(t, app, fiber.MethodPost, "/subscriptions/5/resume", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	app = newBillingApp(&stubService{err: billing.ErrExpiredSubscription}, loggedIn)
	resp, body := doJSON(t, app, fiber.MethodPost, "/subscriptions/5/resume", nil)
	assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "subscription_expired", body["error"])
}

func TestHandlePortal(t *testing.T) {
	app := newBillingApp(&stubService{url: "https://billing.example/portal"}, loggedIn)
	resp, body := doJSON(t, app, fiber.MethodGet, "/portal", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://billing.example/portal", body["url"])

	app = newBillingApp(&stubService{err: billing.ErrCustomerNotFound}, loggedIn)
	resp, _ = doJSON(t, app, fiber.MethodGet, "/portal", nil)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestHandleListSubscriptions(t *testing.T) {
	svc := &stubService{subs: []models.Subscription{{ID: 1}, {ID: 2}}}
	app := newBillingApp(svc, loggedIn)

	resp, body := doJSON(t, app, fiber.MethodGet, "/subscriptions", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 2)
	assert.Equal(t, uint(7), svc.gotUserID)
}

func TestHandleSupersedePrice(t *testing.T) {
	svc := &stubService{price: &models.Price{ID: 9, Amount: 1500}}
	app := newBillingApp(svc, loggedIn)

	resp, _ := doJSON(t, app, fiber.MethodPost, "/prices/3/supersede", fiber.Map{"amount": 1500})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.Equal(t, int64(1500), svc.gotAmount)

	resp, _ = doJSON(t, app, fiber.MethodPost, "/prices/3/supersede", fiber.Map{})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
