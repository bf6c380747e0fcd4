package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/app/controllers"
	"github.com/ManuelReschke/billingsync/internal/pkg/middleware"
	"github.com/ManuelReschke/billingsync/internal/pkg/session"
)

type HttpRouter struct {
	webhooks *controllers.WebhookController
	billing  *controllers.BillingController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session unless one was injected
	if session.GetSessionStore() == nil {
		session.NewSessionStore()
	}

	h.registerWebhookRoutes(app)

	// Everything after the webhooks needs the user context
	app.Use(middleware.UserContextMiddleware)

	h.registerBillingRoutes(app)
}

func NewHttpRouter(webhooks *controllers.WebhookController, billing *controllers.BillingController) *HttpRouter {
	return &HttpRouter{webhooks: webhooks, billing: billing}
}
