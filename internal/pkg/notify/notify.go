// Package notify mails users about billing events.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
	"github.com/ManuelReschke/billingsync/internal/pkg/mail"
)

const Name = "notify"

type message struct {
	subject string
	body    *template.Template
}

var messages = map[billing.EventName]message{
	billing.EventSubscriptionCreated: {
		subject: "Your subscription is active",
		body:    template.Must(template.New("created").Parse(`<p>Hi {{.Name}},</p><p>your subscription is now active. Thank you!</p>`)),
	},
	billing.EventSubscriptionCancelled: {
		subject: "Your subscription has ended",
		body:    template.Must(template.New("cancelled").Parse(`<p>Hi {{.Name}},</p><p>your subscription has been cancelled and access has ended.</p>`)),
	},
	billing.EventPaymentSucceeded: {
		subject: "Payment received",
		body:    template.Must(template.New("succeeded").Parse(`<p>Hi {{.Name}},</p><p>we received your payment of {{.Amount}}.</p>`)),
	},
	billing.EventPaymentFailed: {
		subject: "Payment failed",
		body:    template.Must(template.New("failed").Parse(`<p>Hi {{.Name}},</p><p>your payment of {{.Amount}} could not be processed{{if .Reason}}: {{.Reason}}{{end}}.</p><p>Please update your payment method.</p>`)),
	},
	billing.EventInvoicePaid: {
		subject: "Invoice paid",
		body:    template.Must(template.New("invoice").Parse(`<p>Hi {{.Name}},</p><p>your invoice over {{.Amount}} has been paid.</p>`)),
	},
}

// Consumer sends one mail per user-facing event. Events without a template
// or without a user are skipped.
type Consumer struct {
	users  repository.UserRepository
	mailer mail.Mailer
}

func New(users repository.UserRepository, mailer mail.Mailer) *Consumer {
	return &Consumer{users: users, mailer: mailer}
}

func (c *Consumer) Name() string { return Name }

func (c *Consumer) Consume(ctx context.Context, event billing.Event) error {
	msg, ok := messages[event.Name]
	if !ok || event.UserID == 0 {
		return nil
	}

	user, err := c.users.GetByID(event.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Notify] User %d for %s no longer exists", event.UserID, event.Name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load user %d: %w", event.UserID, err)
	}

	var body bytes.Buffer
	data := struct {
		Name   string
		Amount string
		Reason string
	}{
		Name:   user.Name,
		Amount: FormatAmount(event.Amount, event.Currency),
		Reason: event.FailureMessage,
	}
	if err := msg.body.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s mail: %w", event.Name, err)
	}
	return c.mailer.Send(ctx, user.Email, msg.subject, body.String())
}

// FormatAmount renders minor units as "12.00 USD".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return strings.TrimSpace(fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency)))
}
