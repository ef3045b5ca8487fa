package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

func TestPostgresStore_Take(t *testing.T) {
	policy := Policy{Capacity: 5, RefillRate: 1}

	tests := []struct {
		name        string
		stored      Bucket
		wantAllowed bool
		wantTokens  float64
	}{
		{
			name:        "fresh bucket admits",
			stored:      Bucket{Tokens: 5, Capacity: 5, RefillRate: 1, LastRefill: epoch},
			wantAllowed: true,
			wantTokens:  4,
		},
		{
			name:        "refill reaches one token",
			stored:      Bucket{Tokens: 0.5, Capacity: 5, RefillRate: 1, LastRefill: epoch.Add(-500 * time.Millisecond)},
			wantAllowed: true,
			wantTokens:  0,
		},
		{
			name:        "throttled still persists refill",
			stored:      Bucket{Tokens: 0.25, Capacity: 5, RefillRate: 1, LastRefill: epoch.Add(-500 * time.Millisecond)},
			wantAllowed: false,
			wantTokens:  0.75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			store := NewPostgresStoreWithDB(mock)

			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO rate_limits").
				WithArgs("stripe", "default", 5.0, 5, 1.0, epoch).
				WillReturnResult(pgxmock.NewResult("INSERT", 0))
			mock.ExpectQuery("SELECT tokens, capacity, refill_rate, last_refill FROM rate_limits").
				WithArgs("stripe", "default").
				WillReturnRows(pgxmock.NewRows([]string{"tokens", "capacity", "refill_rate", "last_refill"}).
					AddRow(tt.stored.Tokens, tt.stored.Capacity, tt.stored.RefillRate, tt.stored.LastRefill))
			mock.ExpectExec("UPDATE rate_limits").
				WithArgs("stripe", "default", tt.wantTokens, epoch).
				WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			mock.ExpectCommit()

			d, err := store.Take(context.Background(), "stripe", "default", policy, epoch)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, 5, d.Capacity)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_Take_LockFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewPostgresStoreWithDB(mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO rate_limits").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT tokens").
		WithArgs("stripe", "default").
		WillReturnError(errors.New("canceling statement due to lock timeout"))
	mock.ExpectRollback()

	_, err = store.Take(context.Background(), "stripe", "default", Policy{Capacity: 5, RefillRate: 1}, epoch)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock bucket")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get(t *testing.T) {
	t.Run("existing bucket", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows([]string{"source", "bucket_key", "tokens", "capacity", "refill_rate", "last_refill", "created_at"}).
			AddRow("stripe", "default", 3.5, 100, 10.0, epoch, epoch.Add(-time.Hour))
		mock.ExpectQuery("SELECT source, bucket_key, tokens").
			WithArgs("stripe", "default").
			WillReturnRows(rows)

		b, err := NewPostgresStoreWithDB(mock).Get(context.Background(), "stripe", "default")
		require.NoError(t, err)
		assert.Equal(t, 3.5, b.Tokens)
		assert.Equal(t, 100, b.Capacity)
		assert.InDelta(t, 0.035, b.FillRatio(), 1e-9)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing bucket", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery("SELECT source, bucket_key, tokens").
			WithArgs("stripe", "nope").
			WillReturnError(pgx.ErrNoRows)

		b, err := NewPostgresStoreWithDB(mock).Get(context.Background(), "stripe", "nope")
		assert.ErrorIs(t, err, domain.ErrBucketNotFound)
		assert.Nil(t, b)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows([]string{"source", "bucket_key", "tokens", "capacity", "refill_rate", "last_refill", "created_at"}).
		AddRow("stripe", "10.0.0.1", 1.0, 100, 10.0, epoch, epoch).
		AddRow("stripe", "default", 99.0, 100, 10.0, epoch, epoch)
	mock.ExpectQuery("SELECT source, bucket_key").
		WithArgs("stripe").
		WillReturnRows(rows)

	buckets, err := NewPostgresStoreWithDB(mock).List(context.Background(), "stripe")
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "10.0.0.1", buckets[0].Key)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Delete(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "deleted", rows: 1},
		{name: "not found", rows: 0, wantErr: domain.ErrBucketNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectExec("DELETE FROM rate_limits WHERE source").
				WithArgs("stripe", "default").
				WillReturnResult(pgxmock.NewResult("DELETE", tt.rows))

			err = NewPostgresStoreWithDB(mock).Delete(context.Background(), "stripe", "default")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_DeleteStale(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	before := epoch.Add(-StaleAfter)
	mock.ExpectExec("DELETE FROM rate_limits WHERE last_refill").
		WithArgs(before).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	deleted, err := NewPostgresStoreWithDB(mock).DeleteStale(context.Background(), before)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
