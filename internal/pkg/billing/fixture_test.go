package billing

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/config"
	"github.com/ManuelReschke/billingsync/internal/pkg/database"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway/gatewaytest"
)

const (
	fakeProvider = "fake"
	fakeSecret   = "shared-secret"
)

type fixture struct {
	db        *gorm.DB
	repos     *repository.Repositories
	cfg       config.Billing
	adapter   *gatewaytest.Adapter
	registry  *gateway.Registry
	publisher *RecordingPublisher
	engine    *Engine
	service   *Service
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := config.Billing{
		DefaultCurrency: "usd",
		DefaultGateway:  fakeProvider,
		Gateways: map[string]config.Gateway{
			fakeProvider: {Name: fakeProvider, Enabled: true, WebhookSecret: fakeSecret},
			"disabled":   {Name: "disabled", Enabled: false},
		},
		CheckoutExpiry:       24 * time.Hour,
		CheckoutAbandonAfter: time.Hour,
		SuccessURL:           "https://app.test/billing/success",
		CancelURL:            "https://app.test/billing/cancel",
	}

	adapter := gatewaytest.New(fakeProvider, fakeSecret)
	registry := gateway.NewRegistry(cfg)
	registry.Register(fakeProvider, func(config.Gateway) (gateway.Adapter, error) { return adapter, nil })
	registry.Register("disabled", func(config.Gateway) (gateway.Adapter, error) { return adapter, nil })

	f := &fixture{
		db:        db,
		repos:     repository.NewRepositories(db),
		cfg:       cfg,
		adapter:   adapter,
		registry:  registry,
		publisher: &RecordingPublisher{},
		now:       time.Now().UTC().Truncate(time.Second),
	}
	logger := NewLogger(cfg)
	f.engine = NewEngine(db, registry, f.publisher, logger)
	f.engine.now = func() time.Time { return f.now }
	f.service = NewService(db, registry, cfg, logger)
	f.service.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) request(id, eventType string, object map[string]any) gateway.WebhookRequest {
	h := http.Header{}
	h.Set(gatewaytest.SignatureHeader, fakeSecret)
	return gateway.WebhookRequest{Body: gatewaytest.Body(id, eventType, object), Header: h}
}

func (f *fixture) deliver(t *testing.T, id, eventType string, object map[string]any) *Result {
	t.Helper()
	res, err := f.engine.HandleWebhook(context.Background(), fakeProvider, f.request(id, eventType, object))
	require.NoError(t, err)
	return res
}

func (f *fixture) seedUser(t *testing.T, email string) *models.User {
	t.Helper()
	user := &models.User{Name: "Test User", Email: email, Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, f.repos.User.Create(user))
	return user
}

func (f *fixture) seedCustomer(t *testing.T, email, providerCustomerID string) *models.Customer {
	t.Helper()
	user := f.seedUser(t, email)
	customer := &models.Customer{UserID: user.ID, Provider: fakeProvider, ProviderCustomerID: providerCustomerID, Email: email}
	require.NoError(t, f.repos.Customer.Create(customer))
	return customer
}

func (f *fixture) seedPrice(t *testing.T, recurring bool) *models.Price {
	t.Helper()
	product := &models.Product{Name: "Pro", IsActive: true}
	require.NoError(t, f.repos.Price.CreateProduct(product))
	price := &models.Price{ProductID: product.ID, Provider: fakeProvider, Amount: 1200, Currency: "usd", IntervalCount: 1, IsActive: true}
	if recurring {
		month := models.PriceIntervalMonth
		price.Interval = &month
	}
	require.NoError(t, f.repos.Price.Create(price))
	return price
}

// seedHandedOffSession creates a pending session already handed to the provider.
func (f *fixture) seedHandedOffSession(t *testing.T, customer *models.Customer, price *models.Price, providerSessionID string) *models.CheckoutSession {
	t.Helper()
	session := &models.CheckoutSession{
		UUID:              uuid.New().String(),
		PriceID:           price.ID,
		CustomerID:        &customer.ID,
		Provider:          fakeProvider,
		ProviderSessionID: providerSessionID,
		Status:            models.CheckoutStatusPending,
		ExpiresAt:         f.now.Add(time.Hour),
	}
	require.NoError(t, f.repos.CheckoutSession.Create(session))
	return session
}

func (f *fixture) seedSubscription(t *testing.T, customer *models.Customer, providerSubscriptionID, status string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{
		CustomerID:             customer.ID,
		Provider:               fakeProvider,
		ProviderSubscriptionID: providerSubscriptionID,
		Status:                 status,
	}
	created, err := f.repos.Subscription.CreateIfNotExists(sub)
	require.NoError(t, err)
	require.True(t, created)
	return sub
}

func (f *fixture) reloadSubscription(t *testing.T, providerSubscriptionID string) *models.Subscription {
	t.Helper()
	sub, err := f.repos.Subscription.GetByProviderSubscriptionID(providerSubscriptionID)
	require.NoError(t, err)
	return sub
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}
