package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inmodash/inmodash-backend/app/controllers"
)

// Router installs a group of routes on the app
type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies carries everything the HTTP layer calls into
type Dependencies struct {
	Subscriptions controllers.SubscriptionService
	WebhookInbox  controllers.WebhookInbox
	// WebhookQueue may be nil; webhooks are then processed inline.
	WebhookQueue   controllers.WebhookEnqueuer
	WebhookSecret  string
	JWTSecret      string
	LimiterStorage fiber.Storage
	Metrics        MetricsConfig
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	setup(app, NewHttpRouter(deps.Metrics), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
