package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/cache"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/health"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/maintenance"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
)

const (
	// DefaultWindowHours is the stats window when none is requested
	DefaultWindowHours = 24
	maxWindowHours     = 24 * 30
	statsCacheKey      = "admin:stats:%d"
	statsCachePattern  = "admin:stats:%"
)

// BucketView is a bucket with its fill ratio for dashboards
type BucketView struct {
	ratelimit.Bucket
	FillRatio float64 `json:"fill_ratio"`
}

// Service handles admin business logic
type Service struct {
	health      HealthChecker
	events      EventReader
	buckets     BucketManager
	maintenance MaintenanceRunner
	cache       *cache.PGCache
	statsTTL    time.Duration
	audit       audit.Logger
	logger      *slog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithStatsCache caches stats responses for ttl
func WithStatsCache(c *cache.PGCache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		s.statsTTL = ttl
	}
}

func WithAudit(l audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// NewService creates a new admin service
func NewService(h HealthChecker, events EventReader, buckets BucketManager, runner MaintenanceRunner, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		health:      h,
		events:      events,
		buckets:     buckets,
		maintenance: runner,
		audit:       &audit.NoOpLogger{},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the per-source rollup, served from the cache when configured
func (s *Service) Stats(ctx context.Context, windowHours int) (health.Stats, error) {
	if windowHours == 0 {
		windowHours = DefaultWindowHours
	}
	if windowHours < 1 || windowHours > maxWindowHours {
		return health.Stats{}, domain.ErrValidationFailed.WithError(
			fmt.Errorf("window_hours must be between 1 and %d", maxWindowHours))
	}

	if s.cache == nil || s.statsTTL <= 0 {
		return s.health.Stats(ctx, windowHours)
	}
	return cache.Remember(ctx, s.cache, fmt.Sprintf(statsCacheKey, windowHours), s.statsTTL,
		func(ctx context.Context) (health.Stats, error) {
			return s.health.Stats(ctx, windowHours)
		})
}

// Alerts evaluates the alert thresholds now
func (s *Service) Alerts(ctx context.Context) (health.Report, error) {
	return s.health.Check(ctx)
}

// Events lists ledger rows matching filter
func (s *Service) Events(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	return s.events.List(ctx, filter)
}

// Event returns one ledger row
func (s *Service) Event(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	return s.events.GetByID(ctx, id)
}

// Buckets lists stored buckets, optionally for one source
func (s *Service) Buckets(ctx context.Context, source string) ([]BucketView, error) {
	buckets, err := s.buckets.Buckets(ctx, source)
	if err != nil {
		return nil, err
	}

	views := make([]BucketView, 0, len(buckets))
	for _, b := range buckets {
		views = append(views, BucketView{Bucket: b, FillRatio: b.FillRatio()})
	}
	return views, nil
}

// ResetBucket deletes a bucket so it restarts full
func (s *Service) ResetBucket(ctx context.Context, actor, source, key string) error {
	if err := s.buckets.Reset(ctx, source, key); err != nil {
		if errors.Is(err, ratelimit.ErrInvalidKey) {
			return domain.ErrValidationFailed.WithError(err)
		}
		return err
	}

	s.logger.InfoContext(ctx, "rate limit bucket reset", "source", source, "bucket_key", key, "actor", actor)
	if err := s.audit.Log(ctx, audit.Event{
		EventType: audit.EventBucketReset,
		Source:    source,
		Actor:     actor,
		Metadata:  map[string]string{"bucket_key": key},
	}); err != nil {
		s.logger.WarnContext(ctx, "failed to audit bucket reset", "error", err)
	}
	return nil
}

// Cleanup runs one maintenance pass on demand. Cached stats are dropped
// once rows have been purged.
func (s *Service) Cleanup(ctx context.Context, actor string) (maintenance.Report, error) {
	s.logger.InfoContext(ctx, "maintenance requested", "actor", actor)

	report, err := s.maintenance.Run(ctx)
	if err != nil {
		return report, err
	}

	if s.cache != nil && report.PurgedEvents > 0 {
		if _, err := s.cache.DeletePattern(ctx, statsCachePattern); err != nil {
			s.logger.WarnContext(ctx, "failed to invalidate stats cache", "error", err)
		}
	}
	return report, nil
}
