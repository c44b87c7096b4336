package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/jobs"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/notify"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	cfg := config.Load()

	// Structured logging (JSON to stdout)
	logging.Setup(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	db, err := database.Connect(cfg)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(db); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(db, 5*time.Second)
	logging.Setup(cfg.LogLevel, pgLogHandler)

	m := metrics.New()

	// Notifications (WhatsApp relay, optional)
	var notifier notify.Notifier = notify.Nop{}
	var dispatcher *notify.Dispatcher
	if cfg.WhatsAppAPIURL != "" {
		relay := notify.NewWhatsAppRelay(cfg.WhatsAppAPIURL, cfg.WhatsAppAPIToken)
		dispatcher = notify.NewDispatcher(relay, cfg.WhatsAppGroupID, cfg.NotifyQueueSize, m)
		notifier = dispatcher
		slog.Info("whatsapp notifications enabled")
	}

	// Services
	authService := services.NewAuthService(db, cfg)
	pool := services.NewLicensePool(db, m)
	orderService := services.NewOrderService(db, pool, notifier, m)
	subscriptionService := services.NewSubscriptionService(db)
	paymentService := services.NewPaymentService(db, subscriptionService, notifier, m, services.PaymentConfig{
		Timeout:    cfg.PaymentTimeout,
		MaxPending: cfg.PaymentMaxPending,
		RefPrefix:  cfg.PaymentRefPrefix,
	})
	catalogService := services.NewCatalogService(db)

	// Periodic maintenance, single-flight across replicas when Redis is configured
	var locker jobs.Locker = jobs.LocalLocker{}
	if cfg.RedisURL != "" {
		client, err := jobs.Connect(cfg.RedisURL)
		if err != nil {
			slog.Error("redis configuration invalid", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		locker = jobs.NewRedisLocker(client, "licensing:jobs:")
	}
	runner := jobs.NewRunner(cfg.SweepInterval, locker, m,
		jobs.Maintenance(db, paymentService, subscriptionService, cfg.LogRetentionDays)...)
	runner.Start(context.Background())

	// Sentry error tracking
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      cfg.AppEnv,
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		return c.Next()
	})

	routes.Setup(app, cfg, db, m, routes.Handlers{
		Auth:     handlers.NewAuthHandler(authService),
		Health:   handlers.NewHealthHandler(db),
		Orders:   handlers.NewOrderHandler(orderService),
		Payments: handlers.NewPaymentHandler(paymentService, subscriptionService),
		Catalog:  handlers.NewCatalogHandler(catalogService, pool),
		Webhooks: handlers.NewWebhookHandler(paymentService, cfg.PaymentWebhookSecret),
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	runner.Stop()
	if dispatcher != nil {
		dispatcher.Stop()
	}
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	// Close database connections
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
