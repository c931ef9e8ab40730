package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp builds the fiber application: record routes, health check and the
// prometheus scrape endpoint.
func NewApp(handler *RecordHandler, registry *prometheus.Registry) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "crudkit",
	})

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	handler.RegisterRoutes(app)
	return app
}
