package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsRouter struct {
}

// InstallRouter exposes the default prometheus registry.
func (m MetricsRouter) InstallRouter(app *fiber.App) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func NewMetricsRouter() *MetricsRouter {
	return &MetricsRouter{}
}
