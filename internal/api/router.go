package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/admin"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/api/handler"
	adminHandler "github.com/saturnino-fabrica-de-software/hookgate/internal/api/handler/admin"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ws"
)

type Dependencies struct {
	Gate           handler.Gate
	Operations     admin.Operations
	Tokens         middleware.TokenValidator
	Limiter        middleware.Admitter
	DB             handler.Pinger
	Metrics        middleware.HTTPRecorder
	MetricsHandler http.Handler
	Hub            *ws.Hub
}

type Router struct {
	app       *fiber.App
	logger    *slog.Logger
	deps      *Dependencies
	cancelHub context.CancelFunc
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Hookgate",
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(middleware.RequestIDs())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger))
	if r.deps != nil && r.deps.Metrics != nil {
		r.app.Use(middleware.Metrics(r.deps.Metrics))
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	// Health check endpoints (no auth required)
	var db handler.Pinger
	if r.deps != nil {
		db = r.deps.DB
	}
	healthHandler := handler.NewHealthHandler(db, r.logger)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	if r.deps == nil {
		return
	}

	if r.deps.MetricsHandler != nil {
		r.app.Get("/metrics", adaptor.HTTPHandler(r.deps.MetricsHandler))
	}

	v1 := r.app.Group("/v1")

	// Provider deliveries authenticate by signature, not by token
	webhookHandler := handler.NewWebhookHandler(r.deps.Gate, r.logger)
	v1.Post("/webhooks/:source", webhookHandler.Receive)

	if r.deps.Operations != nil && r.deps.Tokens != nil {
		r.setupAdminRoutes(v1.Group("/admin"))
	}
}

func (r *Router) setupAdminRoutes(adminGroup fiber.Router) {
	adminGroup.Use(middleware.OperatorAuth(admin.RoleViewer, middleware.OperatorAuthDependencies{
		Tokens: r.deps.Tokens,
		Logger: r.logger,
	}))
	if r.deps.Limiter != nil {
		adminGroup.Use(middleware.RateLimit(r.deps.Limiter, middleware.DefaultRateLimiterConfig(r.logger)))
	}

	ops := adminHandler.NewOperationsHandler(r.deps.Operations, r.logger)
	operatorOnly := middleware.RequireRole(admin.RoleOperator)

	// Ledger and health
	adminGroup.Get("/webhooks/stats", ops.Stats)
	adminGroup.Get("/webhooks/alerts", ops.Alerts)
	adminGroup.Get("/webhooks/events", ops.Events)
	adminGroup.Get("/webhooks/events/:id", ops.Event)

	// Rate limit buckets
	adminGroup.Get("/rate-limits", ops.Buckets)
	adminGroup.Delete("/rate-limits/:source/:key", operatorOnly, ops.ResetBucket)

	// Maintenance
	adminGroup.Post("/maintenance/cleanup", operatorOnly, ops.Cleanup)

	// Live feed
	if r.deps.Hub != nil {
		hubCtx, hubCancel := context.WithCancel(context.Background())
		r.cancelHub = hubCancel
		go r.deps.Hub.Run(hubCtx)

		adminGroup.Get("/ws", ws.UpgradeMiddleware(), ws.Handler(r.deps.Hub))
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	// Stop WebSocket hub
	if r.cancelHub != nil {
		r.cancelHub()
	}

	return r.app.Shutdown()
}
