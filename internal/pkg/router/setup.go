package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/billingsync/app/controllers"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the billing routes and the metrics endpoint.
// HttpRouter goes first: it installs the session-backed UserContext
// middleware the billing routes rely on.
func InstallRouter(app *fiber.App, webhooks *controllers.WebhookController, billing *controllers.BillingController) {
	setup(app, NewHttpRouter(webhooks, billing), NewMetricsRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
