package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/database"
	"github.com/ManuelReschke/billingsync/internal/pkg/mail"
)

func setup(t *testing.T) (*Consumer, *mail.RecordingMailer, *models.User) {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	repos := repository.NewRepositories(db)
	user := &models.User{Name: "Jane", Email: "jane@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, repos.User.Create(user))

	mailer := &mail.RecordingMailer{}
	return New(repos.User, mailer), mailer, user
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "12.00 USD", FormatAmount(1200, "usd"))
	assert.Equal(t, "0.05 EUR", FormatAmount(5, "eur"))
	assert.Equal(t, "-3.10 USD", FormatAmount(-310, "usd"))
	assert.Equal(t, "1.00", FormatAmount(100, ""))
}

func TestPaymentFailedMail(t *testing.T) {
	c, mailer, user := setup(t)

	err := c.Consume(context.Background(), billing.Event{
		Name:           billing.EventPaymentFailed,
		UserID:         user.ID,
		Amount:         1200,
		Currency:       "usd",
		FailureMessage: "Your card was declined.",
	})
	require.NoError(t, err)

	require.Len(t, mailer.Messages, 1)
	msg := mailer.Messages[0]
	assert.Equal(t, "jane@example.com", msg.To)
	assert.Equal(t, "Payment failed", msg.Subject)
	assert.Contains(t, msg.Body, "12.00 USD")
	assert.Contains(t, msg.Body, "Your card was declined.")
}

func TestSkippedEvents(t *testing.T) {
	c, mailer, user := setup(t)
	ctx := context.Background()

	require.NoError(t, c.Consume(ctx, billing.Event{Name: billing.EventSubscriptionUpdated, UserID: user.ID}))
	require.NoError(t, c.Consume(ctx, billing.Event{Name: billing.EventCheckoutCompleted, UserID: user.ID}))
	require.NoError(t, c.Consume(ctx, billing.Event{Name: billing.EventPaymentSucceeded}))
	require.NoError(t, c.Consume(ctx, billing.Event{Name: billing.EventPaymentSucceeded, UserID: 999}))
	assert.Empty(t, mailer.Messages)
}

func TestMailerErrorIsReturned(t *testing.T) {
	c, mailer, user := setup(t)
	mailer.Err = errors.New("smtp down")

	err := c.Consume(context.Background(), billing.Event{Name: billing.EventSubscriptionCancelled, UserID: user.ID})
	assert.ErrorIs(t, err, mailer.Err)
	assert.Equal(t, Name, c.Name())
}
