package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Upsert stores a payment keyed by (source, external_id). Redelivery of the
// same provider payment updates the amount in place.
func (r *TransactionRepository) Upsert(ctx context.Context, tx *domain.Transaction) error {
	tx.Currency = strings.ToUpper(tx.Currency)
	if err := tx.Validate(); err != nil {
		return domain.ErrInvalidPayload.WithError(err)
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}

	query := `
		INSERT INTO transactions (id, contact_id, source, external_id, amount_cents, currency, occurred_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (source, external_id) DO UPDATE
		SET amount_cents = EXCLUDED.amount_cents,
		    currency = EXCLUDED.currency,
		    occurred_at = EXCLUDED.occurred_at
		RETURNING id, created_at
	`

	err := r.db.QueryRow(ctx, query,
		tx.ID,
		tx.ContactID,
		tx.Source,
		tx.ExternalID,
		tx.AmountCents,
		tx.Currency,
		tx.OccurredAt,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert transaction: %w", err)
	}

	return nil
}
