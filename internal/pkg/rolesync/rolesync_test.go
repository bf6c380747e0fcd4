package rolesync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/database"
)

type world struct {
	repos    *repository.Repositories
	consumer *Consumer
	user     *models.User
	customer *models.Customer
}

func setup(t *testing.T) *world {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	repos := repository.NewRepositories(db)
	user := &models.User{Name: "Sub Scriber", Email: "sub@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, repos.User.Create(user))
	customer := &models.Customer{UserID: user.ID, Provider: "stripe", ProviderCustomerID: "cus_1"}
	require.NoError(t, repos.Customer.Create(customer))
	return &world{repos: repos, consumer: New(repos), user: user, customer: customer}
}

func (w *world) subscription(t *testing.T, providerID, status string) *models.Subscription {
	t.Helper()
	sub := &models.Subscription{CustomerID: w.customer.ID, Provider: "stripe", ProviderSubscriptionID: providerID, Status: status}
	_, err := w.repos.Subscription.CreateIfNotExists(sub)
	require.NoError(t, err)
	return sub
}

func (w *world) event(name billing.EventName, sub *models.Subscription) billing.Event {
	return billing.Event{
		Name:               name,
		UserID:             w.user.ID,
		CustomerID:         w.customer.ID,
		SubscriptionID:     sub.ID,
		SubscriptionStatus: sub.Status,
	}
}

func (w *world) hasRole(t *testing.T) bool {
	t.Helper()
	has, err := w.repos.UserRole.Has(w.user.ID, models.RoleSubscriber)
	require.NoError(t, err)
	return has
}

func TestGrantOnEntitlingStatus(t *testing.T) {
	tests := []struct {
		name   string
		event  billing.EventName
		status string
		want   bool
	}{
		{"created active", billing.EventSubscriptionCreated, models.SubscriptionStatusActive, true},
		{"updated past_due", billing.EventSubscriptionUpdated, models.SubscriptionStatusPastDue, true},
		{"updated pending", billing.EventSubscriptionUpdated, models.SubscriptionStatusPending, false},
		{"updated cancelled", billing.EventSubscriptionUpdated, models.SubscriptionStatusCancelled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := setup(t)
			sub := w.subscription(t, "sub_1", tt.status)
			require.NoError(t, w.consumer.Consume(context.Background(), w.event(tt.event, sub)))
			assert.Equal(t, tt.want, w.hasRole(t))
		})
	}
}

func TestGrantIsIdempotent(t *testing.T) {
	w := setup(t)
	sub := w.subscription(t, "sub_1", models.SubscriptionStatusActive)
	ev := w.event(billing.EventSubscriptionCreated, sub)

	require.NoError(t, w.consumer.Consume(context.Background(), ev))
	require.NoError(t, w.consumer.Consume(context.Background(), ev))
	assert.True(t, w.hasRole(t))
}

func TestCancellationKeepsRoleWhileAnotherSubscriptionIsActive(t *testing.T) {
	w := setup(t)
	ctx := context.Background()
	first := w.subscription(t, "sub_1", models.SubscriptionStatusActive)
	second := w.subscription(t, "sub_2", models.SubscriptionStatusActive)
	require.NoError(t, w.consumer.Consume(ctx, w.event(billing.EventSubscriptionCreated, first)))
	require.NoError(t, w.consumer.Consume(ctx, w.event(billing.EventSubscriptionCreated, second)))

	first.Status = models.SubscriptionStatusCancelled
	require.NoError(t, w.repos.Subscription.Update(first))
	require.NoError(t, w.consumer.Consume(ctx, w.event(billing.EventSubscriptionCancelled, first)))
	assert.True(t, w.hasRole(t))

	second.Status = models.SubscriptionStatusCancelled
	require.NoError(t, w.repos.Subscription.Update(second))
	require.NoError(t, w.consumer.Consume(ctx, w.event(billing.EventSubscriptionCancelled, second)))
	assert.False(t, w.hasRole(t))
}

func TestCancellationExcludesTheTransitionedSubscription(t *testing.T) {
	w := setup(t)
	ctx := context.Background()
	sub := w.subscription(t, "sub_1", models.SubscriptionStatusActive)
	require.NoError(t, w.consumer.Consume(ctx, w.event(billing.EventSubscriptionCreated, sub)))

	// The row may still read active when the event is consumed.
	ev := w.event(billing.EventSubscriptionCancelled, sub)
	ev.SubscriptionStatus = models.SubscriptionStatusCancelled
	require.NoError(t, w.consumer.Consume(ctx, ev))
	assert.False(t, w.hasRole(t))
}

func TestIgnoresNonSubscriptionEvents(t *testing.T) {
	w := setup(t)
	for _, name := range []billing.EventName{billing.EventPaymentSucceeded, billing.EventInvoicePaid, billing.EventCheckoutCompleted} {
		ev := billing.Event{Name: name, UserID: w.user.ID, SubscriptionStatus: models.SubscriptionStatusActive}
		require.NoError(t, w.consumer.Consume(context.Background(), ev))
	}
	assert.False(t, w.hasRole(t))
	assert.Equal(t, Name, w.consumer.Name())
}
