package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/archive"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/events"
)

type BucketCleaner interface {
	CleanupStale(ctx context.Context) (int64, error)
}

type Ledger interface {
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
	ExportOlderThan(ctx context.Context, before time.Time, fn func(domain.WebhookEvent) error) (int, error)
}

type CacheCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// Report summarizes one maintenance run
type Report struct {
	StaleBuckets   int64     `json:"stale_buckets"`
	PurgedEvents   int64     `json:"purged_events"`
	ArchivedEvents int       `json:"archived_events"`
	ArchiveKey     string    `json:"archive_key,omitempty"`
	ExpiredCache   int64     `json:"expired_cache"`
	Cutoff         time.Time `json:"cutoff"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Runner removes idle rate limit buckets, old ledger rows and expired cache
// entries. It is invoked by an external scheduler.
type Runner struct {
	buckets   BucketCleaner
	ledger    Ledger
	cache     CacheCleaner
	archive   archive.Store
	prefix    string
	retention time.Duration
	publisher events.Publisher
	audit     audit.Logger
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Runner)

// WithArchive uploads rows as JSONL before they are purged
func WithArchive(store archive.Store, prefix string) Option {
	return func(r *Runner) {
		r.archive = store
		r.prefix = prefix
	}
}

func WithCache(c CacheCleaner) Option {
	return func(r *Runner) { r.cache = c }
}

func WithRetention(d time.Duration) Option {
	return func(r *Runner) { r.retention = d }
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Runner) { r.publisher = p }
}

func WithAudit(l audit.Logger) Option {
	return func(r *Runner) { r.audit = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(buckets BucketCleaner, ledger Ledger, logger *slog.Logger, opts ...Option) *Runner {
	r := &Runner{
		buckets:   buckets,
		ledger:    ledger,
		retention: domain.EventRetention,
		publisher: &events.NoopPublisher{},
		audit:     &audit.NoOpLogger{},
		logger:    logger.With("component", "maintenance"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one maintenance pass. A failed archive upload aborts the
// ledger purge so no row is deleted without its copy.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	report := Report{StartedAt: r.now()}
	report.Cutoff = report.StartedAt.Add(-r.retention)

	stale, err := r.buckets.CleanupStale(ctx)
	if err != nil {
		return report, fmt.Errorf("cleanup stale rate limits: %w", err)
	}
	report.StaleBuckets = stale

	if r.archive != nil {
		key, n, err := r.archiveLedger(ctx, report.Cutoff, report.StartedAt)
		if err != nil {
			return report, fmt.Errorf("archive webhook events: %w", err)
		}
		report.ArchiveKey = key
		report.ArchivedEvents = n
	}

	purged, err := r.ledger.PurgeOlderThan(ctx, report.Cutoff)
	if err != nil {
		return report, fmt.Errorf("cleanup old webhook events: %w", err)
	}
	report.PurgedEvents = purged

	if r.cache != nil {
		expired, err := r.cache.CleanupExpired(ctx)
		if err != nil {
			r.logger.WarnContext(ctx, "failed to cleanup expired cache entries", "error", err)
		}
		report.ExpiredCache = expired
	}

	report.FinishedAt = r.now()
	r.finish(ctx, report)

	return report, nil
}

func (r *Runner) archiveLedger(ctx context.Context, cutoff, now time.Time) (string, int, error) {
	w := archive.NewJSONL()
	n, err := r.ledger.ExportOlderThan(ctx, cutoff, w.Write)
	if err != nil {
		return "", 0, err
	}
	if n == 0 {
		return "", 0, nil
	}

	key := archive.Key(r.prefix, cutoff, now)
	if err := r.archive.Put(ctx, key, w.Bytes()); err != nil {
		return "", 0, err
	}
	return key, n, nil
}

func (r *Runner) finish(ctx context.Context, report Report) {
	r.logger.InfoContext(ctx, "maintenance completed",
		"stale_buckets", report.StaleBuckets,
		"purged_events", report.PurgedEvents,
		"archived_events", report.ArchivedEvents,
		"expired_cache", report.ExpiredCache,
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
	)

	meta := map[string]string{
		"stale_buckets": strconv.FormatInt(report.StaleBuckets, 10),
		"purged_events": strconv.FormatInt(report.PurgedEvents, 10),
		"cutoff":        report.Cutoff.Format(time.RFC3339),
	}
	if report.ArchiveKey != "" {
		meta["archive_key"] = report.ArchiveKey
	}
	if err := r.audit.Log(ctx, audit.Event{
		EventType: audit.EventMaintenanceRun,
		Actor:     "maintenance",
		Metadata:  meta,
	}); err != nil {
		r.logger.WarnContext(ctx, "failed to write audit event", "error", err)
	}

	if err := r.publisher.Publish(ctx, events.TopicMaintenanceRun, report); err != nil {
		r.logger.WarnContext(ctx, "failed to publish maintenance report", "error", err)
	}
}
