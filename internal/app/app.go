// Package app assembles the admission gate, its stores and the operator
// services from configuration. cmd/api and cmd/hookctl share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/admin"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/api"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/archive"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/cache"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/config"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/crm"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/database"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/events"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/health"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/maintenance"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/metrics"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/repository"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/webhook"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ws"
)

// AdminPolicy throttles operator API calls per operator
var AdminPolicy = ratelimit.Policy{Capacity: 60, RefillRate: 1}

// App holds every wired component
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Sources  *webhook.Registry
	Limiter  *ratelimit.Limiter
	Ledger   *repository.WebhookEventRepository
	Gate     *webhook.Gate
	Checker  *health.Checker
	Runner   *maintenance.Runner
	Admin    *admin.Service
	Tokens   *admin.JWTService
	Hub      *ws.Hub
	Recorder *metrics.Recorder

	metricsHandler http.Handler
	publisher      events.Publisher
	ownsPool       bool
}

type options struct {
	registerer  prometheus.Registerer
	gatherer    prometheus.Gatherer
	skipArchive bool
}

type Option func(*options)

// WithRegistry registers metrics on reg instead of the default registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registerer = reg
		o.gatherer = reg
	}
}

// WithoutArchive purges old ledger rows without uploading them first
func WithoutArchive() Option {
	return func(o *options) { o.skipArchive = true }
}

// New opens the database pool and wires every component
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	poolCfg := database.DefaultPoolConfig(cfg.DatabaseURL)
	poolCfg.MaxConns = cfg.DatabaseMaxConns
	poolCfg.LockTimeout = cfg.DatabaseLockTimeout

	pool, err := database.NewPgxPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	a, err := NewWithPool(ctx, cfg, pool, logger, opts...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	a.ownsPool = true
	return a, nil
}

// NewWithPool wires every component on an existing pool. The pool is not
// closed by Close.
func NewWithPool(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *slog.Logger, opts ...Option) (*App, error) {
	o := options{
		registerer: prometheus.DefaultRegisterer,
		gatherer:   prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(&o)
	}

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		return nil, err
	}
	registry := webhook.NewRegistry(SourceConfigs(sources)...)

	a := &App{
		Config:         cfg,
		Logger:         logger,
		Pool:           pool,
		Sources:        registry,
		Hub:            ws.NewHub(),
		Recorder:       metrics.NewRecorder(o.registerer),
		metricsHandler: promhttp.HandlerFor(o.gatherer, promhttp.HandlerOpts{}),
	}

	var store ratelimit.Store = ratelimit.NewPostgresStore(pool)
	if cfg.RateLimitStore == "memory" {
		logger.Warn("using in-memory rate limit store; buckets are per process")
		store = ratelimit.NewMemoryStore()
	}
	a.Limiter = ratelimit.NewLimiter(store, Policies(registry, sources))

	var broker events.Publisher = &events.NoopPublisher{}
	if cfg.NATSURL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		broker = nats
	}
	a.publisher = events.Multi{broker, a.Hub}
	auditLog := audit.NewSlogLogger(logger)

	processor, err := crm.NewProcessor(pool, logger)
	if err != nil {
		_ = a.publisher.Close()
		return nil, fmt.Errorf("build crm processor: %w", err)
	}

	a.Ledger = repository.NewWebhookEventRepository(pool)
	a.Gate = webhook.NewGate(a.Ledger, a.Limiter, processor, registry, logger,
		webhook.WithPublisher(a.publisher),
		webhook.WithAudit(auditLog),
		webhook.WithRecorder(a.Recorder),
	)

	checkerOpts := []health.CheckerOption{health.WithPublisher(a.publisher)}
	if cfg.AlertsEnabled() {
		checkerOpts = append(checkerOpts, health.WithNotifier(
			health.NewNotifier(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, logger)))
	}
	a.Checker = health.NewChecker(health.NewRepository(pool), logger, checkerOpts...)

	pgCache := cache.NewPGCache(pool).WithLogger(logger)
	runnerOpts := []maintenance.Option{
		maintenance.WithCache(pgCache),
		maintenance.WithAudit(auditLog),
		maintenance.WithPublisher(a.publisher),
	}
	if cfg.ArchiveEnabled() && !o.skipArchive {
		archiver, err := archive.NewS3Archiver(ctx, archive.Config{
			Bucket:   cfg.ArchiveS3Bucket,
			Region:   cfg.ArchiveS3Region,
			Endpoint: cfg.ArchiveS3Endpoint,
		})
		if err != nil {
			_ = a.publisher.Close()
			return nil, err
		}
		runnerOpts = append(runnerOpts, maintenance.WithArchive(archiver, cfg.ArchiveS3Prefix))
	}
	a.Runner = maintenance.NewRunner(a.Limiter, a.Ledger, logger, runnerOpts...)

	a.Tokens = admin.NewJWTService(cfg.AdminJWTSecret, cfg.AdminJWTIssuer, cfg.AdminTokenTTL)
	a.Admin = admin.NewService(a.Checker, a.Ledger, a.Limiter, a.Runner, logger,
		admin.WithStatsCache(pgCache, cfg.StatsCacheTTL),
		admin.WithAudit(auditLog),
	)

	logger.Info("admission gate wired",
		"sources", len(sources),
		"rate_limit_store", cfg.RateLimitStore,
		"nats", cfg.NATSURL != "",
		"alerts", cfg.AlertsEnabled(),
		"archive", cfg.ArchiveEnabled() && !o.skipArchive,
	)

	return a, nil
}

// RouterDependencies exposes the components the HTTP router serves
func (a *App) RouterDependencies() *api.Dependencies {
	return &api.Dependencies{
		Gate:           a.Gate,
		Operations:     a.Admin,
		Tokens:         a.Tokens,
		Limiter:        a.Limiter,
		DB:             database.PoolPinger{Pool: a.Pool},
		Metrics:        a.Recorder,
		MetricsHandler: a.metricsHandler,
		Hub:            a.Hub,
	}
}

// Close releases the broker connection and, when New opened it, the pool
func (a *App) Close() {
	if err := a.publisher.Close(); err != nil {
		a.Logger.Warn("failed to close event publisher", "error", err)
	}
	if a.ownsPool {
		a.Pool.Close()
	}
}

// SourceConfigs converts the sources file into gate policies
func SourceConfigs(sources []config.Source) []webhook.SourceConfig {
	out := make([]webhook.SourceConfig, 0, len(sources))
	for _, s := range sources {
		out = append(out, webhook.SourceConfig{
			Name:             s.Name,
			Tier:             ratelimit.ParseTier(s.Tier),
			Secret:           s.Secret,
			Scheme:           webhook.Scheme(s.Scheme),
			BucketBy:         webhook.BucketBy(s.BucketBy),
			RequireTimestamp: s.RequireTimestamp,
		})
	}
	return out
}

// Policies resolves bucket policies from source tiers, per-source overrides
// and the admin API policy
func Policies(registry *webhook.Registry, sources []config.Source) *ratelimit.Policies {
	policies := ratelimit.NewPolicies(registry.Tiers())
	for _, s := range sources {
		if s.HasPolicyOverride() {
			policies.Override(strings.ToLower(s.Name), ratelimit.Policy{Capacity: s.Capacity, RefillRate: s.RefillRate})
		}
	}
	policies.Override(middleware.AdminRateLimitSource, AdminPolicy)
	return policies
}
