package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

type ContactRepository struct {
	db DBTX
}

func NewContactRepository(db DBTX) *ContactRepository {
	return &ContactRepository{db: db}
}

// Upsert finds or creates the contact by email. Empty names never overwrite stored ones.
func (r *ContactRepository) Upsert(ctx context.Context, c *domain.Contact) error {
	c.Email = domain.NormalizeEmail(c.Email)
	if err := c.Validate(); err != nil {
		return domain.ErrInvalidPayload.WithError(err)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	query := `
		INSERT INTO contacts (id, email, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE
		SET first_name = COALESCE(EXCLUDED.first_name, contacts.first_name),
		    last_name = COALESCE(EXCLUDED.last_name, contacts.last_name),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		c.ID,
		c.Email,
		nullIfEmpty(c.FirstName),
		nullIfEmpty(c.LastName),
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}

	return nil
}

func (r *ContactRepository) GetByEmail(ctx context.Context, email string) (*domain.Contact, error) {
	query := `
		SELECT id, email, first_name, last_name, created_at, updated_at
		FROM contacts
		WHERE email = $1
	`

	var c domain.Contact
	var firstName, lastName *string
	err := r.db.QueryRow(ctx, query, domain.NormalizeEmail(email)).Scan(
		&c.ID,
		&c.Email,
		&firstName,
		&lastName,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get contact by email: %w", err)
	}

	c.FirstName = derefString(firstName)
	c.LastName = derefString(lastName)
	return &c, nil
}
