package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/metrics"
	"github.com/ahmetcoskunkizilkaya/licensing-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type Handlers struct {
	Auth     *handlers.AuthHandler
	Health   *handlers.HealthHandler
	Orders   *handlers.OrderHandler
	Payments *handlers.PaymentHandler
	Catalog  *handlers.CatalogHandler
	Webhooks *handlers.WebhookHandler
}

func Setup(app *fiber.App, cfg *config.Config, db *gorm.DB, m *metrics.Metrics, h Handlers) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})))

	api := app.Group("/api")

	// General API rate limiter: 120 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               120,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", h.Health.Check)
	api.Get("/plans", h.Catalog.ListPlans)

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", h.Auth.Register)
	auth.Post("/login", h.Auth.Login)
	auth.Post("/refresh", h.Auth.Refresh)

	// Gateway callbacks authenticate with a shared secret, not a JWT.
	api.Post("/webhooks/payments", h.Webhooks.HandlePaymentCallback)

	protected := []fiber.Handler{middleware.JWTProtected(cfg), middleware.Identify(db, cfg)}
	withAuth := func(handler fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, protected...), handler)
	}

	api.Post("/auth/logout", withAuth(h.Auth.Logout)...)

	api.Post("/orders", withAuth(h.Orders.Fulfill)...)
	api.Get("/orders/:order_number", withAuth(h.Orders.Get)...)
	api.Delete("/orders/:order_number", withAuth(h.Orders.Cancel)...)

	api.Post("/payments", withAuth(h.Payments.Create)...)
	api.Get("/payments", withAuth(h.Payments.List)...)
	api.Get("/payments/:id", withAuth(h.Payments.Get)...)
	api.Get("/subscription", withAuth(h.Payments.CurrentSubscription)...)

	api.Post("/software", withAuth(h.Catalog.CreateSoftware)...)
	api.Post("/software/:id/versions", withAuth(h.Catalog.AddVersion)...)
	api.Post("/software/:id/licenses", withAuth(h.Catalog.ImportLicenses)...)
	api.Get("/software/:id/stock", withAuth(h.Catalog.Stock)...)

	admin := api.Group("/admin", append(protected, middleware.AdminRequired())...)
	admin.Post("/payments/sweep", h.Payments.Sweep)
	admin.Post("/payments/:id/verify", h.Payments.Verify)
	admin.Post("/payments/:id/reject", h.Payments.Reject)
	admin.Post("/licenses/release", h.Catalog.ReleaseLicenses)
	admin.Post("/plans", h.Catalog.CreatePlan)
}
