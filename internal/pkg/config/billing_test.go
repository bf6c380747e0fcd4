package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
)

func TestLoadBillingDefaults(t *testing.T) {
	env.Env = map[string]string{}
	t.Cleanup(func() { env.Env = nil })

	cfg := LoadBilling()
	assert.Equal(t, "usd", cfg.DefaultCurrency)
	assert.Equal(t, "stripe", cfg.DefaultGateway)
	assert.Equal(t, 24*time.Hour, cfg.CheckoutExpiry)
	assert.Equal(t, time.Hour, cfg.CheckoutAbandonAfter)
	assert.True(t, cfg.LoggingEnabled)
	assert.Equal(t, "billing", cfg.LogChannel)
	assert.Equal(t, DefaultCheckoutSweepSchedule, cfg.CheckoutSweepSchedule)

	gw, ok := cfg.Gateway("stripe")
	require.True(t, ok)
	assert.False(t, gw.Enabled, "gateways are disabled unless switched on")
}

func TestLoadBillingGateways(t *testing.T) {
	env.Env = map[string]string{
		"BILLING_GATEWAYS":                "stripe,Patreon",
		"BILLING_STRIPE_ENABLED":          "true",
		"BILLING_STRIPE_SECRET_KEY":       "sk_test_1",
		"BILLING_STRIPE_WEBHOOK_SECRET":   "whsec_1",
		"BILLING_PATREON_ENABLED":         "false",
		"BILLING_CHECKOUT_EXPIRY_MINUTES": "30",
		"BILLING_LOGGING_ENABLED":         "false",
	}
	t.Cleanup(func() { env.Env = nil })

	cfg := LoadBilling()
	assert.Len(t, cfg.Gateways, 2)
	assert.Equal(t, 30*time.Minute, cfg.CheckoutExpiry)
	assert.False(t, cfg.LoggingEnabled)

	stripe, ok := cfg.Gateway("STRIPE")
	require.True(t, ok)
	assert.True(t, stripe.Enabled)
	assert.Equal(t, "sk_test_1", stripe.SecretKey)
	assert.Equal(t, "whsec_1", stripe.WebhookSecret)

	patreon, ok := cfg.Gateway("patreon")
	require.True(t, ok)
	assert.False(t, patreon.Enabled)

	_, ok = cfg.Gateway("paypal")
	assert.False(t, ok)
}
