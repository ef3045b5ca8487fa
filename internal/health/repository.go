package health

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DB interface for database operations (compatible with pgxpool.Pool and pgxmock)
type DB interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

type Repository struct {
	db DB
}

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// Stats aggregates ledger rows received after since, per source. Throttled
// and rejected rows are failed rows that never reached processing.
func (r *Repository) Stats(ctx context.Context, since time.Time) ([]SourceStats, error) {
	query := `
		SELECT
			source,
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'success'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'duplicate'),
			COUNT(*) FILTER (WHERE status = 'failed' AND error_code = 'THROTTLED'),
			COUNT(*) FILTER (WHERE status = 'failed' AND error_code IN ('REPLAY_REJECTED', 'INVALID_SIGNATURE')),
			COUNT(*) FILTER (WHERE signature_valid = false),
			COALESCE(AVG(processing_duration_ms), 0)::float8,
			COALESCE(PERCENTILE_CONT(0.50) WITHIN GROUP (ORDER BY processing_duration_ms), 0)::float8,
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY processing_duration_ms), 0)::float8,
			COALESCE(PERCENTILE_CONT(0.99) WITHIN GROUP (ORDER BY processing_duration_ms), 0)::float8
		FROM webhook_events
		WHERE received_at > $1
		GROUP BY source
		ORDER BY source
	`

	rows, err := r.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query webhook stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStats
	for rows.Next() {
		var s SourceStats
		if err := rows.Scan(
			&s.Source,
			&s.Total,
			&s.Success,
			&s.Failed,
			&s.Duplicate,
			&s.Throttled,
			&s.Rejected,
			&s.InvalidSignatures,
			&s.AvgDurationMs,
			&s.P50DurationMs,
			&s.P95DurationMs,
			&s.P99DurationMs,
		); err != nil {
			return nil, fmt.Errorf("scan webhook stats: %w", err)
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}
