package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
)

// MetricsConfig protects the monitor page. An empty password disables it.
type MetricsConfig struct {
	User     string
	Password string
}

// HttpRouter serves the operational endpoints
type HttpRouter struct {
	metrics MetricsConfig
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// fiber metrics
	if h.metrics.Password != "" {
		user := h.metrics.User
		if user == "" {
			user = "admin"
		}
		app.Get("/metrics", basicauth.New(basicauth.Config{
			Users: map[string]string{
				user: h.metrics.Password,
			},
		}), monitor.New(monitor.Config{Title: "InmoDash Metrics"}))
	}
}

func NewHttpRouter(metrics MetricsConfig) *HttpRouter {
	return &HttpRouter{metrics: metrics}
}
