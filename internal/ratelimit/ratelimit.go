package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

// Store persists token buckets. Take must be atomic per (source, key) and
// must not block calls for other keys.
type Store interface {
	Take(ctx context.Context, source, key string, policy Policy, now time.Time) (Decision, error)
	Get(ctx context.Context, source, key string) (*Bucket, error)
	List(ctx context.Context, source string) ([]Bucket, error)
	Delete(ctx context.Context, source, key string) error
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// DB interface for database operations (compatible with pgxpool.Pool and pgxmock)
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore keeps buckets in the rate_limits table and serializes
// admission checks with a row lock (SELECT ... FOR UPDATE).
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store on a connection pool
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// NewPostgresStoreWithDB creates a store with custom DB interface
func NewPostgresStoreWithDB(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Take creates the bucket at full capacity if missing, then locks its row,
// refills, consumes and writes it back in one transaction.
func (s *PostgresStore) Take(ctx context.Context, source, key string, policy Policy, now time.Time) (Decision, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("begin admission: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lazy creation; a concurrent creator wins and we lock its row below.
	_, err = tx.Exec(ctx, `
		INSERT INTO rate_limits (source, bucket_key, tokens, capacity, refill_rate, last_refill)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, bucket_key) DO NOTHING
	`, source, key, float64(policy.Capacity), policy.Capacity, policy.RefillRate, now)
	if err != nil {
		return Decision{}, fmt.Errorf("create bucket: %w", err)
	}

	b := Bucket{Source: source, Key: key}
	err = tx.QueryRow(ctx, `
		SELECT tokens, capacity, refill_rate, last_refill
		FROM rate_limits
		WHERE source = $1 AND bucket_key = $2
		FOR UPDATE
	`, source, key).Scan(&b.Tokens, &b.Capacity, &b.RefillRate, &b.LastRefill)
	if err != nil {
		return Decision{}, fmt.Errorf("lock bucket: %w", err)
	}

	decision := take(&b, now)

	_, err = tx.Exec(ctx, `
		UPDATE rate_limits
		SET tokens = $3, last_refill = $4
		WHERE source = $1 AND bucket_key = $2
	`, source, key, b.Tokens, b.LastRefill)
	if err != nil {
		return Decision{}, fmt.Errorf("update bucket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Decision{}, fmt.Errorf("commit admission: %w", err)
	}

	return decision, nil
}

// Get returns the stored bucket without refilling it
func (s *PostgresStore) Get(ctx context.Context, source, key string) (*Bucket, error) {
	query := `
		SELECT source, bucket_key, tokens, capacity, refill_rate, last_refill, created_at
		FROM rate_limits
		WHERE source = $1 AND bucket_key = $2
	`

	var b Bucket
	err := s.db.QueryRow(ctx, query, source, key).Scan(
		&b.Source, &b.Key, &b.Tokens, &b.Capacity, &b.RefillRate, &b.LastRefill, &b.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBucketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bucket: %w", err)
	}

	return &b, nil
}

// List returns buckets, optionally for a single source
func (s *PostgresStore) List(ctx context.Context, source string) ([]Bucket, error) {
	query := `
		SELECT source, bucket_key, tokens, capacity, refill_rate, last_refill, created_at
		FROM rate_limits
		WHERE ($1 = '' OR source = $1)
		ORDER BY source, bucket_key
	`

	rows, err := s.db.Query(ctx, query, source)
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}
	defer rows.Close()

	buckets := make([]Bucket, 0)
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Source, &b.Key, &b.Tokens, &b.Capacity, &b.RefillRate, &b.LastRefill, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, b)
	}

	return buckets, rows.Err()
}

// Delete removes a bucket (operator reset); the next check recreates it full
func (s *PostgresStore) Delete(ctx context.Context, source, key string) error {
	result, err := s.db.Exec(ctx, `DELETE FROM rate_limits WHERE source = $1 AND bucket_key = $2`, source, key)
	if err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBucketNotFound
	}
	return nil
}

// DeleteStale removes buckets whose last refill predates before
func (s *PostgresStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.Exec(ctx, `DELETE FROM rate_limits WHERE last_refill < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale buckets: %w", err)
	}
	return result.RowsAffected(), nil
}
