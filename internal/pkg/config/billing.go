package config

import (
	"strings"
	"time"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

const (
	DefaultCheckoutExpiryMinutes       = 24 * 60
	DefaultCheckoutAbandonAfterMinutes = 60
	DefaultCheckoutSweepSchedule       = "@every 5m"
)

// Gateway holds the settings of one payment provider.
type Gateway struct {
	Name          string
	Enabled       bool
	SecretKey     string
	WebhookSecret string
}

// Billing is the read-only configuration surface of the billing core.
type Billing struct {
	DefaultCurrency       string
	DefaultGateway        string
	Gateways              map[string]Gateway
	CheckoutExpiry        time.Duration
	CheckoutAbandonAfter  time.Duration
	LoggingEnabled        bool
	LogChannel            string
	SuccessURL            string
	CancelURL             string
	PortalReturnURL       string
	CheckoutSweepSchedule string
	DispatchWorkers       int
}

// LoadBilling reads BILLING_* settings. Gateways are listed in
// BILLING_GATEWAYS; each one reads BILLING_<NAME>_ENABLED, _SECRET_KEY and
// _WEBHOOK_SECRET.
func LoadBilling() Billing {
	cfg := Billing{
		DefaultCurrency:       strings.ToLower(env.GetEnv("BILLING_DEFAULT_CURRENCY", "usd")),
		DefaultGateway:        strings.ToLower(env.GetEnv("BILLING_DEFAULT_GATEWAY", "stripe")),
		Gateways:              map[string]Gateway{},
		CheckoutExpiry:        time.Duration(env.GetEnvInt("BILLING_CHECKOUT_EXPIRY_MINUTES", DefaultCheckoutExpiryMinutes)) * time.Minute,
		CheckoutAbandonAfter:  time.Duration(env.GetEnvInt("BILLING_CHECKOUT_ABANDON_AFTER_MINUTES", DefaultCheckoutAbandonAfterMinutes)) * time.Minute,
		LoggingEnabled:        env.GetEnvBool("BILLING_LOGGING_ENABLED", true),
		LogChannel:            env.GetEnv("BILLING_LOG_CHANNEL", "billing"),
		SuccessURL:            env.GetEnv("BILLING_SUCCESS_URL", ""),
		CancelURL:             env.GetEnv("BILLING_CANCEL_URL", ""),
		PortalReturnURL:       env.GetEnv("BILLING_PORTAL_RETURN_URL", ""),
		CheckoutSweepSchedule: env.GetEnv("BILLING_CHECKOUT_SWEEP_SCHEDULE", DefaultCheckoutSweepSchedule),
		DispatchWorkers:       env.GetEnvInt("BILLING_DISPATCH_WORKERS", 3),
	}

	for _, name := range env.GetEnvList("BILLING_GATEWAYS", []string{cfg.DefaultGateway}) {
		name = strings.ToLower(name)
		prefix := "BILLING_" + strings.ToUpper(name) + "_"
		cfg.Gateways[name] = Gateway{
			Name:          name,
			Enabled:       env.GetEnvBool(prefix+"ENABLED", false),
			SecretKey:     strings.TrimSpace(env.GetEnv(prefix+"SECRET_KEY", "")),
			WebhookSecret: strings.TrimSpace(env.GetEnv(prefix+"WEBHOOK_SECRET", "")),
		}
	}
	return cfg
}

// Gateway returns the settings for name. Names are case-insensitive.
func (b Billing) Gateway(name string) (Gateway, bool) {
	g, ok := b.Gateways[strings.ToLower(strings.TrimSpace(name))]
	return g, ok
}
