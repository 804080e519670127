package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/inmodash/inmodash-backend/internal/pkg/archive"
	"github.com/inmodash/inmodash-backend/internal/pkg/billing"
	"github.com/inmodash/inmodash-backend/internal/pkg/cache"
	"github.com/inmodash/inmodash-backend/internal/pkg/database"
	"github.com/inmodash/inmodash-backend/internal/pkg/env"
	"github.com/inmodash/inmodash-backend/internal/pkg/jobqueue"
	"github.com/inmodash/inmodash-backend/internal/pkg/router"
)

const shutdownTimeout = 20 * time.Second

type application struct {
	app     *fiber.App
	db      *gorm.DB
	redis   *redis.Client
	manager *jobqueue.Manager
}

func main() {
	env.SetupEnvFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- a.app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	}()

	select {
	case err := <-listenErr:
		log.Printf("Server stopped: %v", err)
	case <-ctx.Done():
		log.Println("Shutting down")
	}
	a.shutdown()
}

func newApplication(ctx context.Context) (*application, error) {
	db, err := database.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	redisClient := cache.NewClientFromEnv(ctx)

	billingCfg := billing.ConfigFromEnv()
	gateway, err := billing.NewMercadoPagoClientFromEnv(billingCfg.ProviderTimeout)
	if err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("mercadopago: %w", err)
	}
	svc := billing.NewServiceFromDB(db, gateway, billingCfg)

	workers, _ := strconv.Atoi(env.GetEnv("JOBQUEUE_WORKERS", "3"))
	queue := jobqueue.NewQueue(redisClient, workers)
	queue.RegisterHandler(jobqueue.JobTypeBillingWebhook, jobqueue.NewBillingWebhookHandler(svc))

	archiveCfg, err := archive.LoadConfig()
	if err != nil {
		log.Printf("Webhook archive disabled: %v", err)
	} else if archiveCfg.IsEnabled() {
		archiver, err := archive.NewClient(ctx, archiveCfg)
		if err != nil {
			log.Printf("Webhook archive disabled: %v", err)
		} else {
			queue.RegisterHandler(jobqueue.JobTypeWebhookArchive, jobqueue.NewWebhookArchiveHandler(svc, archiver))
		}
	}

	manager := jobqueue.NewManager(queue, redisClient, svc, jobqueue.ManagerConfigFromEnv())
	manager.Start()

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// SWAGGER / OPENAPI
	if specPath := findOpenAPISpec(); specPath != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: specPath,
			Path:     "v1",
		}))
	}

	deps := router.Dependencies{
		Subscriptions: svc,
		WebhookInbox:  svc,
		WebhookQueue:  queue,
		WebhookSecret: env.GetEnv("MP_WEBHOOK_SECRET", ""),
		JWTSecret:     env.GetEnv("JWT_SECRET", ""),
		Metrics: router.MetricsConfig{
			User:     env.GetEnv("METRICS_USER", "admin"),
			Password: env.GetEnv("METRICS_PASSWORD", ""),
		},
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err == nil {
		deps.LimiterStorage = router.NewLimiterStorage(redisClient)
	} else {
		log.Println("Rate limiting falls back to in-memory storage")
	}
	cancel()

	// ROUTER
	router.InstallRouter(app, deps)

	return &application{app: app, db: db, redis: redisClient, manager: manager}, nil
}

func (a *application) shutdown() {
	if err := a.app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	a.manager.Stop()
	if err := a.redis.Close(); err != nil {
		log.Printf("Redis close: %v", err)
	}
	if err := database.Close(a.db); err != nil {
		log.Printf("Database close: %v", err)
	}
}

// findOpenAPISpec looks for the API document from the working directory
// and from cmd/inmodash.
func findOpenAPISpec() string {
	for _, base := range []string{"./", "../../"} {
		path := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
