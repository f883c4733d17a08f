// handlers/system_routes.go
package handlers

import (
	"data-marketplace/middleware"
	"data-marketplace/store"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupPublicRoutes must be registered before the gateway middleware:
// probes and scrapers do not carry the gateway token.
func SetupPublicRoutes(app *fiber.App, st *store.Store) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := st.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy", "error": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
}

func SetupSystemRoutes(app *fiber.App, gate *middleware.AdmissionGate) {
	app.Get("/admission/stats", func(c *fiber.Ctx) error {
		return c.JSON(gate.Stats())
	})
}
