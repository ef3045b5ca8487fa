package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

// WebhookEventRepositoryInterface defines operations on the webhook ledger
type WebhookEventRepositoryInterface interface {
	IsAlreadyProcessed(ctx context.Context, webhookID string) (bool, error)
	IsDuplicatePayload(ctx context.Context, payloadHash, source string, since time.Time) (bool, error)
	Claim(ctx context.Context, ev *domain.WebhookEvent) (domain.Claim, error)
	Record(ctx context.Context, ev *domain.WebhookEvent) error
	Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error)
	List(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error)
	PurgeOlderThan(ctx context.Context, before time.Time) (int64, error)
	ExportOlderThan(ctx context.Context, before time.Time, fn func(domain.WebhookEvent) error) (int, error)
}

// ContactRepositoryInterface defines operations for contact data access
type ContactRepositoryInterface interface {
	Upsert(ctx context.Context, c *domain.Contact) error
	GetByEmail(ctx context.Context, email string) (*domain.Contact, error)
}

var (
	_ WebhookEventRepositoryInterface = (*WebhookEventRepository)(nil)
	_ ContactRepositoryInterface      = (*ContactRepository)(nil)
)
