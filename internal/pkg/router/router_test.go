package router

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	fibersession "github.com/gofiber/fiber/v2/middleware/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/app/controllers"
	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
	"github.com/ManuelReschke/billingsync/internal/pkg/session"
)

type okProcessor struct{}

func (okProcessor) HandleWebhook(ctx context.Context, provider string, req gateway.WebhookRequest) (*billing.Result, error) {
	return &billing.Result{Provider: provider, EventType: "InvoicePaid"}, nil
}

type emptyService struct{}

func (emptyService) CreateCheckout(ctx context.Context, priceID uint, userID uint) (*models.CheckoutSession, error) {
	return &models.CheckoutSession{UUID: "abc", Status: models.CheckoutStatusPending}, nil
}

func (emptyService) SubmitCheckout(ctx context.Context, sessionUUID string, userID uint, in billing.BuyerDetails) (*billing.CheckoutRedirect, error) {
	return &billing.CheckoutRedirect{}, nil
}

func (emptyService) CancelSubscription(ctx context.Context, userID, subscriptionID uint, immediately bool) (*models.Subscription, error) {
	return &models.Subscription{}, nil
}

func (emptyService) ResumeSubscription(ctx context.Context, userID, subscriptionID uint) (*models.Subscription, error) {
	return &models.Subscription{}, nil
}

func (emptyService) ManagementURL(ctx context.Context, userID uint) (string, error) {
	return "https://example.com", nil
}

func (emptyService) ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	return nil, nil
}

func (emptyService) SupersedePrice(ctx context.Context, priceID uint, newAmount int64) (*models.Price, error) {
	return &models.Price{}, nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	session.SetSessionStore(fibersession.New())
	t.Cleanup(func() { session.SetSessionStore(nil) })

	app := fiber.New()
	InstallRouter(app, controllers.NewWebhookController(okProcessor{}), controllers.NewBillingController(emptyService{}))
	return app
}

func TestRoutes(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{fiber.MethodPost, "/billing/webhooks/stripe", `{}`, fiber.StatusNoContent},
		{fiber.MethodPost, "/billing/checkout", `{"price_id":1}`, fiber.StatusCreated},
		{fiber.MethodPost, "/billing/checkout/abc/submit", `{}`, fiber.StatusUnauthorized},
		{fiber.MethodGet, "/billing/subscriptions", "", fiber.StatusUnauthorized},
		{fiber.MethodPost, "/billing/subscriptions/1/cancel", "", fiber.StatusUnauthorized},
		{fiber.MethodPost, "/billing/subscriptions/1/resume", "", fiber.StatusUnauthorized},
		{fiber.MethodGet, "/billing/portal", "", fiber.StatusUnauthorized},
		{fiber.MethodPost, "/billing/admin/prices/1/supersede", `{"amount":1}`, fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/billing/webhooks/stripe", bytes.NewBufferString(`{}`)))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNoContent, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "billingsync_webhook_requests_total")
}
