package admin

import (
	"context"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/health"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/maintenance"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
)

// HealthChecker computes stats and alert reports
type HealthChecker interface {
	Stats(ctx context.Context, windowHours int) (health.Stats, error)
	Check(ctx context.Context) (health.Report, error)
}

// EventReader reads the webhook ledger
type EventReader interface {
	List(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
}

// BucketManager inspects and resets rate limit buckets
type BucketManager interface {
	Buckets(ctx context.Context, source string) ([]ratelimit.Bucket, error)
	Reset(ctx context.Context, source, key string) error
}

// MaintenanceRunner runs one cleanup pass
type MaintenanceRunner interface {
	Run(ctx context.Context) (maintenance.Report, error)
}

// Operations is the admin surface used by HTTP handlers and hookctl
type Operations interface {
	Stats(ctx context.Context, windowHours int) (health.Stats, error)
	Alerts(ctx context.Context) (health.Report, error)
	Events(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error)
	Event(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	Buckets(ctx context.Context, source string) ([]BucketView, error)
	ResetBucket(ctx context.Context, actor, source, key string) error
	Cleanup(ctx context.Context, actor string) (maintenance.Report, error)
}
