package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/inmodash/inmodash-backend/app/controllers"
	"github.com/inmodash/inmodash-backend/internal/pkg/middleware"
)

const apiRateLimit = 60

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api")
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	subs := api.Group("/subscriptions")

	// Provider notifications, no authentication and no rate limit
	webhooks := controllers.NewBillingWebhookController(h.deps.WebhookInbox, h.deps.WebhookQueue, h.deps.WebhookSecret)
	subs.Get("/webhook", webhooks.HandleMercadoPagoWebhook)
	subs.Post("/webhook", webhooks.HandleMercadoPagoWebhook)

	// User API, bearer token required
	sc := controllers.NewSubscriptionController(h.deps.Subscriptions)
	auth := middleware.JWTAuth(h.deps.JWTSecret)
	userLimiter := h.rateLimiter("api", apiRateLimit)
	subs.Post("/create", userLimiter, auth, sc.HandleCreate)
	subs.Get("/me", userLimiter, auth, sc.HandleGetMine)
	subs.Post("/cancel", userLimiter, auth, sc.HandleCancel)
}

func (h ApiRouter) rateLimiter(name string, max int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return name + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "Too many requests",
			})
		},
	})
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
