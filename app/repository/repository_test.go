package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/database"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedCustomer(t *testing.T, repos *Repositories, email, providerID string) *models.Customer {
	t.Helper()
	user := &models.User{Name: "Test User", Email: email, Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, repos.User.Create(user))
	customer := &models.Customer{UserID: user.ID, Provider: models.BillingProviderStripe, ProviderCustomerID: providerID, Email: email}
	require.NoError(t, repos.Customer.Create(customer))
	return customer
}

func TestSubscriptionCreateIfNotExists(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	customer := seedCustomer(t, repos, "sub@example.com", "cus_1")

	first := &models.Subscription{CustomerID: customer.ID, Provider: "stripe", ProviderSubscriptionID: "sub_123", Status: models.SubscriptionStatusActive}
	created, err := repos.Subscription.CreateIfNotExists(first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)

	second := &models.Subscription{CustomerID: customer.ID, Provider: "stripe", ProviderSubscriptionID: "sub_123", Status: models.SubscriptionStatusPastDue}
	created, err = repos.Subscription.CreateIfNotExists(second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.SubscriptionStatusActive, second.Status, "existing row must win")

	subs, err := repos.Subscription.ListByCustomer(customer.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSubscriptionCountEntitlingExcludesTransitioned(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	customer := seedCustomer(t, repos, "count@example.com", "cus_2")

	statuses := []string{models.SubscriptionStatusActive, models.SubscriptionStatusPastDue, models.SubscriptionStatusCancelled}
	var ids []uint
	for i, status := range statuses {
		sub := &models.Subscription{CustomerID: customer.ID, Provider: "stripe", ProviderSubscriptionID: "sub_" + string(rune('a'+i)), Status: status}
		_, err := repos.Subscription.CreateIfNotExists(sub)
		require.NoError(t, err)
		ids = append(ids, sub.ID)
	}

	count, err := repos.Subscription.CountEntitlingByCustomer(customer.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	count, err = repos.Subscription.CountEntitlingByCustomer(customer.ID, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPaymentCreateIfNotExists(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	customer := seedCustomer(t, repos, "pay@example.com", "cus_3")

	payment := &models.Payment{CustomerID: customer.ID, Provider: "stripe", ProviderPaymentID: "pi_1", Amount: 1500, Currency: "usd", Status: models.PaymentStatusSucceeded}
	created, err := repos.Payment.CreateIfNotExists(payment)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &models.Payment{CustomerID: customer.ID, Provider: "stripe", ProviderPaymentID: "pi_1", Amount: 9999, Currency: "usd", Status: models.PaymentStatusFailed}
	created, err = repos.Payment.CreateIfNotExists(dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1500), dup.Amount)

	payments, err := repos.Payment.ListByCustomer(customer.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

// dryRunMySQL renders statements with the production dialect without a server.
func dryRunMySQL(t *testing.T) (*gorm.DB, *[]string) {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "billing:billing@tcp(127.0.0.1:3306)/billing?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	var queries []string
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:capture", func(tx *gorm.DB) {
		queries = append(queries, tx.Statement.SQL.String())
	}))
	return db, &queries
}

func TestCreateIfNotExistsRereadsWithRowLock(t *testing.T) {
	t.Run("payment", func(t *testing.T) {
		db, queries := dryRunMySQL(t)
		_, err := NewPaymentRepository(db).CreateIfNotExists(&models.Payment{ProviderPaymentID: "pi_1", Status: models.PaymentStatusSucceeded})
		require.NoError(t, err)
		require.Len(t, *queries, 1)
		assert.True(t, strings.HasSuffix((*queries)[0], "FOR UPDATE"), (*queries)[0])
	})

	t.Run("subscription", func(t *testing.T) {
		db, queries := dryRunMySQL(t)
		_, err := NewSubscriptionRepository(db).CreateIfNotExists(&models.Subscription{ProviderSubscriptionID: "sub_1", Status: models.SubscriptionStatusActive})
		require.NoError(t, err)
		require.Len(t, *queries, 1)
		assert.True(t, strings.HasSuffix((*queries)[0], "FOR UPDATE"), (*queries)[0])
	})
}

func TestPaymentUpdateChangesOutcome(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	customer := seedCustomer(t, repos, "upd@example.com", "cus_4")

	payment := &models.Payment{CustomerID: customer.ID, Provider: "stripe", ProviderPaymentID: "pi_2", Amount: 700, Currency: "usd", Status: models.PaymentStatusFailed, FailureCode: "card_declined"}
	_, err := repos.Payment.CreateIfNotExists(payment)
	require.NoError(t, err)

	payment.Status = models.PaymentStatusSucceeded
	payment.FailureCode = ""
	require.NoError(t, repos.Payment.Update(payment))

	stored, err := repos.Payment.GetByProviderPaymentID("pi_2")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusSucceeded, stored.Status)
	assert.Empty(t, stored.FailureCode)
}

func TestPriceGetByProviderPriceID(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	product := &models.Product{Name: "Supporter", IsActive: true}
	require.NoError(t, repos.Price.CreateProduct(product))
	price := &models.Price{ProductID: product.ID, Provider: models.BillingProviderPatreon, ProviderPriceID: "tier_9", Amount: 500, Currency: "usd", IntervalCount: 1, IsActive: true}
	require.NoError(t, repos.Price.Create(price))

	found, err := repos.Price.GetByProviderPriceID(models.BillingProviderPatreon, "tier_9")
	require.NoError(t, err)
	assert.Equal(t, price.ID, found.ID)

	_, err = repos.Price.GetByProviderPriceID(models.BillingProviderStripe, "tier_9")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestInvoiceUpsert(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	customer := seedCustomer(t, repos, "inv@example.com", "cus_4")

	inv := &models.Invoice{CustomerID: customer.ID, Provider: "stripe", ProviderInvoiceID: "in_1", Total: 100, Status: models.InvoiceStatusPosted}
	require.NoError(t, repos.Invoice.Upsert(inv))
	firstID := inv.ID

	updated := &models.Invoice{CustomerID: customer.ID, Provider: "stripe", ProviderInvoiceID: "in_1", Total: 250, Status: models.InvoiceStatusPaid}
	require.NoError(t, repos.Invoice.Upsert(updated))
	assert.Equal(t, firstID, updated.ID)

	stored, err := repos.Invoice.GetByProviderInvoiceID("in_1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), stored.Total)
	assert.Equal(t, models.InvoiceStatusPaid, stored.Status)
}

func TestWebhookEventCreateIfNotExists(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	now := time.Now()

	exists, err := repos.WebhookEvent.Exists("stripe", "evt_1")
	require.NoError(t, err)
	assert.False(t, exists)

	created, err := repos.WebhookEvent.CreateIfNotExists(&models.ProcessedWebhookEvent{Provider: "stripe", ProviderEventID: "evt_1", EventType: "PaymentSucceeded", ProcessedAt: &now})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repos.WebhookEvent.CreateIfNotExists(&models.ProcessedWebhookEvent{Provider: "stripe", ProviderEventID: "evt_1", EventType: "PaymentSucceeded", ProcessedAt: &now})
	require.NoError(t, err)
	assert.False(t, created)

	// same event ID from another provider is a different key
	created, err = repos.WebhookEvent.CreateIfNotExists(&models.ProcessedWebhookEvent{Provider: "patreon", ProviderEventID: "evt_1", EventType: models.WebhookEventTypeIgnored, ProcessedAt: &now})
	require.NoError(t, err)
	assert.True(t, created)

	count, err := repos.WebhookEvent.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestUserRoleGrantRevoke(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	customer := seedCustomer(t, repos, "role@example.com", "cus_5")

	granted, err := repos.UserRole.Grant(customer.UserID, models.RoleSubscriber)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = repos.UserRole.Grant(customer.UserID, models.RoleSubscriber)
	require.NoError(t, err)
	assert.False(t, granted)

	has, err := repos.UserRole.Has(customer.UserID, models.RoleSubscriber)
	require.NoError(t, err)
	assert.True(t, has)

	revoked, err := repos.UserRole.Revoke(customer.UserID, models.RoleSubscriber)
	require.NoError(t, err)
	assert.True(t, revoked)

	has, err = repos.UserRole.Has(customer.UserID, models.RoleSubscriber)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCheckoutSessionSweeps(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	product := &models.Product{Name: "Pro", IsActive: true}
	require.NoError(t, repos.Price.CreateProduct(product))
	price := &models.Price{ProductID: product.ID, Amount: 500, Currency: "usd", IsActive: true}
	require.NoError(t, repos.Price.Create(price))

	now := time.Now()
	stale := &models.CheckoutSession{UUID: "stale", PriceID: price.ID, Status: models.CheckoutStatusPending, ExpiresAt: now.Add(-time.Minute)}
	handedOff := &models.CheckoutSession{UUID: "handed", PriceID: price.ID, ProviderSessionID: "cs_1", Status: models.CheckoutStatusPending, ExpiresAt: now.Add(time.Hour)}
	fresh := &models.CheckoutSession{UUID: "fresh", PriceID: price.ID, Status: models.CheckoutStatusPending, ExpiresAt: now.Add(time.Hour)}
	done := &models.CheckoutSession{UUID: "done", PriceID: price.ID, Status: models.CheckoutStatusCompleted, ExpiresAt: now.Add(-time.Hour)}
	for _, s := range []*models.CheckoutSession{stale, handedOff, fresh, done} {
		require.NoError(t, repos.CheckoutSession.Create(s))
	}

	expired, err := repos.CheckoutSession.ExpirePending(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	abandoned, err := repos.CheckoutSession.AbandonPending(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), abandoned)

	tests := []struct {
		uuid   string
		status string
	}{
		{"stale", models.CheckoutStatusExpired},
		{"handed", models.CheckoutStatusAbandoned},
		{"fresh", models.CheckoutStatusPending},
		{"done", models.CheckoutStatusCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.uuid, func(t *testing.T) {
			s, err := repos.CheckoutSession.GetByUUID(tt.uuid)
			require.NoError(t, err)
			assert.Equal(t, tt.status, s.Status)
		})
	}
}

func TestPaymentMethodUpsert(t *testing.T) {
	repos := NewRepositories(newTestDB(t))
	customer := seedCustomer(t, repos, "pm@example.com", "cus_6")

	pm := &models.PaymentMethod{CustomerID: customer.ID, Provider: "stripe", ProviderPaymentMethodID: "pm_1", Type: "card", Brand: "visa", Last4: "4242"}
	require.NoError(t, repos.Customer.UpsertPaymentMethod(pm))
	assert.NotZero(t, pm.ID)

	again := &models.PaymentMethod{CustomerID: customer.ID, Provider: "stripe", ProviderPaymentMethodID: "pm_1", Type: "card", Brand: "visa", Last4: "4242", ExpYear: 2030}
	require.NoError(t, repos.Customer.UpsertPaymentMethod(again))
	assert.Equal(t, pm.ID, again.ID)
	assert.Equal(t, 2030, again.ExpYear)

	methods, err := repos.Customer.ListPaymentMethods(customer.ID)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestFactoryReturnsSingletonRepositories(t *testing.T) {
	db := newTestDB(t)
	f := NewFactory(db)

	assert.Same(t, db, f.DB())
	assert.Same(t, f.GetRepositories(), f.GetRepositories())
	assert.NotNil(t, f.GetRepositories().Subscription)
}
