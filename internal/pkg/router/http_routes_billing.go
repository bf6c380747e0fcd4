package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/billingsync/internal/pkg/env"
	"github.com/ManuelReschke/billingsync/internal/pkg/middleware"
)

// registerWebhookRoutes installs the provider callbacks. They are
// authenticated by signature, not by session.
func (h HttpRouter) registerWebhookRoutes(app *fiber.App) {
	app.Post("/billing/webhooks/:provider", h.webhooks.HandleWebhook)
}

func (h HttpRouter) registerBillingRoutes(app *fiber.App) {
	billing := app.Group("/billing", limiter.New(limiter.Config{
		Max:        env.GetEnvInt("BILLING_RATE_LIMIT", 60),
		Expiration: time.Minute,
	}))

	billing.Post("/checkout", h.billing.HandleCreateCheckout)
	billing.Post("/checkout/:id/submit", middleware.RequireAPISessionAuth, h.billing.HandleSubmitCheckout)

	billing.Get("/subscriptions", middleware.RequireAPISessionAuth, h.billing.HandleListSubscriptions)
	billing.Post("/subscriptions/:id/cancel", middleware.RequireAPISessionAuth, h.billing.HandleCancelSubscription)
	billing.Post("/subscriptions/:id/resume", middleware.RequireAPISessionAuth, h.billing.HandleResumeSubscription)
	billing.Get("/portal", middleware.RequireAPISessionAuth, h.billing.HandlePortal)

	admin := billing.Group("/admin", middleware.RequireAPIAdmin)
	admin.Post("/prices/:id/supersede", h.billing.HandleSupersedePrice)
}
