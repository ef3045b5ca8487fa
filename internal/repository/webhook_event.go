package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

const webhookEventColumns = `
	id, webhook_id, external_id, request_id, source, event_type,
	ip_address, user_agent, signature_valid, signature_header, webhook_timestamp,
	received_at, status, processing_duration_ms, error_code, error_message,
	payload_hash, payload_size, contact_id, transaction_id, subscription_id, completed_at
`

const webhookEventInsert = `
	INSERT INTO webhook_events (` + webhookEventColumns + `)
	VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''),
	        NULLIF($7, '')::inet, NULLIF($8, ''), $9, NULLIF($10, ''), $11,
	        $12, $13, $14, $15, $16,
	        $17, $18, $19, $20, $21, $22)
`

const webhookEventSelect = `
	SELECT id, webhook_id, external_id, request_id, source, COALESCE(event_type, ''),
	       COALESCE(host(ip_address), ''), COALESCE(user_agent, ''), signature_valid,
	       COALESCE(signature_header, ''), webhook_timestamp,
	       received_at, status, processing_duration_ms, error_code, error_message,
	       payload_hash, payload_size, contact_id, transaction_id, subscription_id, completed_at
	FROM webhook_events
`

// WebhookEventRepository is the webhook ledger
type WebhookEventRepository struct {
	db DBTX
}

func NewWebhookEventRepository(db DBTX) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// IsAlreadyProcessed reports whether a finished row still holds webhookID.
// Released claims (failed processing) do not count, so provider retries go through.
func (r *WebhookEventRepository) IsAlreadyProcessed(ctx context.Context, webhookID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM webhook_events
			WHERE webhook_id = $1 AND status IN ('success', 'duplicate')
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, webhookID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check idempotency: %w", err)
	}
	return exists, nil
}

// IsDuplicatePayload reports whether the same body from the same source was
// processed successfully after since.
func (r *WebhookEventRepository) IsDuplicatePayload(ctx context.Context, payloadHash, source string, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM webhook_events
			WHERE payload_hash = $1 AND source = $2
			  AND status = 'success' AND received_at > $3
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, payloadHash, source, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("check duplicate payload: %w", err)
	}
	return exists, nil
}

// Claim inserts a processing row owning ev.WebhookID. When another row already
// holds the id the claim is not acquired and Existing carries that row's status.
func (r *WebhookEventRepository) Claim(ctx context.Context, ev *domain.WebhookEvent) (domain.Claim, error) {
	if ev.WebhookID == nil || *ev.WebhookID == "" {
		return domain.Claim{}, errors.New("claim requires a webhook id")
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.Status = domain.StatusProcessing
	ev.CompletedAt = nil
	if err := ev.Validate(); err != nil {
		return domain.Claim{}, err
	}

	var id uuid.UUID
	err := r.db.QueryRow(ctx, webhookEventInsert+`
		ON CONFLICT (webhook_id) DO NOTHING
		RETURNING id
	`, eventArgs(ev)...).Scan(&id)
	if err == nil {
		return domain.Claim{Acquired: true}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Claim{}, fmt.Errorf("claim webhook: %w", err)
	}

	var existing domain.WebhookStatus
	err = r.db.QueryRow(ctx, `SELECT status FROM webhook_events WHERE webhook_id = $1`, *ev.WebhookID).Scan(&existing)
	if errors.Is(err, pgx.ErrNoRows) {
		// Holder was released between the insert and the lookup; report it in flight so the provider retries.
		return domain.Claim{Existing: domain.StatusProcessing}, nil
	}
	if err != nil {
		return domain.Claim{}, fmt.Errorf("lookup claim holder: %w", err)
	}

	return domain.Claim{Existing: existing}, nil
}

// Record appends an audit row for a delivery that never claimed its id
// (duplicates, replays, throttled, invalid signatures).
func (r *WebhookEventRepository) Record(ctx context.Context, ev *domain.WebhookEvent) error {
	if !ev.Status.IsTerminal() {
		return domain.ErrInvalidTransition
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.WebhookID = nil
	if err := ev.Validate(); err != nil {
		return err
	}

	if _, err := r.db.Exec(ctx, webhookEventInsert, eventArgs(ev)...); err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

// Finalize moves a claimed row out of processing. A failed finalization also
// releases the claim so a provider retry can claim the id again.
func (r *WebhookEventRepository) Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization) error {
	if err := f.Validate(); err != nil {
		return domain.ErrInvalidTransition.WithError(err)
	}

	query := `
		UPDATE webhook_events
		SET status = $2,
		    processing_duration_ms = $3,
		    error_code = NULLIF($4, ''),
		    error_message = NULLIF($5, ''),
		    contact_id = $6,
		    transaction_id = $7,
		    subscription_id = $8,
		    completed_at = $9,
		    webhook_id = CASE WHEN $2 = 'failed' THEN NULL ELSE webhook_id END
		WHERE id = $1 AND status = 'processing'
	`

	result, err := r.db.Exec(ctx, query,
		id,
		string(f.Status),
		f.DurationMs,
		f.ErrorCode,
		f.ErrorMessage,
		f.Links.ContactID,
		f.Links.TransactionID,
		f.Links.SubscriptionID,
		f.CompletedAt,
	)
	if err != nil {
		if isCheckViolation(err) {
			return domain.ErrInvalidTransition.WithError(err)
		}
		return fmt.Errorf("finalize webhook event: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// GetByID returns one ledger row
func (r *WebhookEventRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.WebhookEvent, error) {
	ev, err := scanEvent(r.db.QueryRow(ctx, webhookEventSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook event: %w", err)
	}
	return ev, nil
}

// List returns the newest rows matching filter
func (r *WebhookEventRepository) List(ctx context.Context, filter domain.EventFilter) ([]domain.WebhookEvent, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}

	query := webhookEventSelect + `
		WHERE ($1 = '' OR source = $1)
		  AND ($2 = '' OR status = $2)
		  AND received_at >= $3
		ORDER BY received_at DESC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, filter.Source, string(filter.Status), filter.Since, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.WebhookEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook event: %w", err)
		}
		events = append(events, *ev)
	}

	return events, rows.Err()
}

// PurgeOlderThan deletes rows received before the cutoff
func (r *WebhookEventRepository) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM webhook_events WHERE received_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge webhook events: %w", err)
	}
	return result.RowsAffected(), nil
}

// ExportOlderThan streams the rows PurgeOlderThan would delete, oldest first
func (r *WebhookEventRepository) ExportOlderThan(ctx context.Context, before time.Time, fn func(domain.WebhookEvent) error) (int, error) {
	rows, err := r.db.Query(ctx, webhookEventSelect+`
		WHERE received_at < $1
		ORDER BY received_at ASC
	`, before)
	if err != nil {
		return 0, fmt.Errorf("export webhook events: %w", err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return n, fmt.Errorf("scan webhook event: %w", err)
		}
		if err := fn(*ev); err != nil {
			return n, err
		}
		n++
	}

	return n, rows.Err()
}

func eventArgs(ev *domain.WebhookEvent) []any {
	return []any{
		ev.ID,
		ev.WebhookID,
		ev.ExternalID,
		ev.RequestID,
		ev.Source,
		ev.EventType,
		ev.IPAddress,
		ev.UserAgent,
		ev.SignatureValid,
		ev.SignatureHeader,
		ev.WebhookTimestamp,
		ev.ReceivedAt,
		string(ev.Status),
		ev.ProcessingDurationMs,
		ev.ErrorCode,
		ev.ErrorMessage,
		ev.PayloadHash,
		ev.PayloadSize,
		ev.ContactID,
		ev.TransactionID,
		ev.SubscriptionID,
		ev.CompletedAt,
	}
}

func scanEvent(row pgx.Row) (*domain.WebhookEvent, error) {
	var ev domain.WebhookEvent
	var status string
	err := row.Scan(
		&ev.ID,
		&ev.WebhookID,
		&ev.ExternalID,
		&ev.RequestID,
		&ev.Source,
		&ev.EventType,
		&ev.IPAddress,
		&ev.UserAgent,
		&ev.SignatureValid,
		&ev.SignatureHeader,
		&ev.WebhookTimestamp,
		&ev.ReceivedAt,
		&status,
		&ev.ProcessingDurationMs,
		&ev.ErrorCode,
		&ev.ErrorMessage,
		&ev.PayloadHash,
		&ev.PayloadSize,
		&ev.ContactID,
		&ev.TransactionID,
		&ev.SubscriptionID,
		&ev.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Status = domain.WebhookStatus(status)
	return &ev, nil
}
