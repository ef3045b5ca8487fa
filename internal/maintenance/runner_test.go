package maintenance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/events"
)

var testNow = time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)

type MockBucketCleaner struct {
	mock.Mock
}

func (m *MockBucketCleaner) CleanupStale(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockLedger struct {
	mock.Mock
	rows []domain.WebhookEvent
}

func (m *MockLedger) PurgeOlderThan(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedger) ExportOlderThan(ctx context.Context, before time.Time, fn func(domain.WebhookEvent) error) (int, error) {
	args := m.Called(ctx, before)
	if err := args.Error(0); err != nil {
		return 0, err
	}
	for _, r := range m.rows {
		if err := fn(r); err != nil {
			return 0, err
		}
	}
	return len(m.rows), nil
}

type MockCacheCleaner struct {
	mock.Mock
}

func (m *MockCacheCleaner) CleanupExpired(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Put(ctx context.Context, key string, data []byte) error {
	args := m.Called(ctx, key, data)
	return args.Error(0)
}

type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) Log(ctx context.Context, event audit.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, event any) error {
	args := m.Called(ctx, topic, event)
	return args.Error(0)
}

func (m *MockPublisher) Close() error { return nil }

var cutoff = testNow.Add(-domain.EventRetention)

func newTestRunner(buckets BucketCleaner, ledger Ledger, opts ...Option) *Runner {
	opts = append(opts, WithClock(func() time.Time { return testNow }))
	return NewRunner(buckets, ledger, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()
	buckets := new(MockBucketCleaner)
	ledger := new(MockLedger)
	cache := new(MockCacheCleaner)
	auditLog := new(MockAuditLogger)
	publisher := new(MockPublisher)

	buckets.On("CleanupStale", ctx).Return(int64(4), nil)
	ledger.On("PurgeOlderThan", ctx, cutoff).Return(int64(120), nil)
	cache.On("CleanupExpired", ctx).Return(int64(2), nil)
	auditLog.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.EventType == audit.EventMaintenanceRun &&
			e.Metadata["stale_buckets"] == "4" &&
			e.Metadata["purged_events"] == "120"
	})).Return(nil)
	publisher.On("Publish", ctx, events.TopicMaintenanceRun, mock.AnythingOfType("maintenance.Report")).Return(nil)

	r := newTestRunner(buckets, ledger, WithCache(cache), WithAudit(auditLog), WithPublisher(publisher))
	report, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(4), report.StaleBuckets)
	assert.Equal(t, int64(120), report.PurgedEvents)
	assert.Equal(t, int64(2), report.ExpiredCache)
	assert.Equal(t, cutoff, report.Cutoff)
	assert.Empty(t, report.ArchiveKey)

	ledger.AssertNotCalled(t, "ExportOlderThan", mock.Anything, mock.Anything)
	buckets.AssertExpectations(t)
	ledger.AssertExpectations(t)
	cache.AssertExpectations(t)
	auditLog.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRunner_ArchivesBeforePurge(t *testing.T) {
	ctx := context.Background()
	buckets := new(MockBucketCleaner)
	ledger := &MockLedger{rows: []domain.WebhookEvent{
		{ID: uuid.New(), Source: "stripe", Status: domain.StatusSuccess},
		{ID: uuid.New(), Source: "hotmart", Status: domain.StatusFailed},
	}}
	store := new(MockStore)

	buckets.On("CleanupStale", ctx).Return(int64(0), nil)
	ledger.On("ExportOlderThan", ctx, cutoff).Return(nil)
	store.On("Put", ctx, mock.MatchedBy(func(key string) bool {
		return strings.HasPrefix(key, "prod/webhook_events/2026/01/30/")
	}), mock.MatchedBy(func(data []byte) bool {
		return strings.Count(string(data), "\n") == 2
	})).Return(nil)
	ledger.On("PurgeOlderThan", ctx, cutoff).Return(int64(2), nil)

	report, err := newTestRunner(buckets, ledger, WithArchive(store, "prod")).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ArchivedEvents)
	assert.Equal(t, int64(2), report.PurgedEvents)
	assert.NotEmpty(t, report.ArchiveKey)

	store.AssertExpectations(t)
	ledger.AssertExpectations(t)
}

func TestRunner_ArchiveFailureAbortsPurge(t *testing.T) {
	ctx := context.Background()
	buckets := new(MockBucketCleaner)
	ledger := &MockLedger{rows: []domain.WebhookEvent{{ID: uuid.New(), Source: "stripe"}}}
	store := new(MockStore)

	buckets.On("CleanupStale", ctx).Return(int64(1), nil)
	ledger.On("ExportOlderThan", ctx, cutoff).Return(nil)
	store.On("Put", ctx, mock.Anything, mock.Anything).Return(errors.New("access denied"))

	report, err := newTestRunner(buckets, ledger, WithArchive(store, "")).Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive webhook events")
	assert.Equal(t, int64(1), report.StaleBuckets)
	ledger.AssertNotCalled(t, "PurgeOlderThan", mock.Anything, mock.Anything)
}

func TestRunner_EmptyArchiveSkipsUpload(t *testing.T) {
	ctx := context.Background()
	buckets := new(MockBucketCleaner)
	ledger := new(MockLedger)
	store := new(MockStore)

	buckets.On("CleanupStale", ctx).Return(int64(0), nil)
	ledger.On("ExportOlderThan", ctx, cutoff).Return(nil)
	ledger.On("PurgeOlderThan", ctx, cutoff).Return(int64(0), nil)

	report, err := newTestRunner(buckets, ledger, WithArchive(store, "")).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.ArchivedEvents)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("bucket cleanup error stops the run", func(t *testing.T) {
		buckets := new(MockBucketCleaner)
		ledger := new(MockLedger)
		buckets.On("CleanupStale", ctx).Return(int64(0), errors.New("lock timeout"))

		_, err := newTestRunner(buckets, ledger).Run(ctx)
		assert.ErrorContains(t, err, "cleanup stale rate limits")
		ledger.AssertNotCalled(t, "PurgeOlderThan", mock.Anything, mock.Anything)
	})

	t.Run("cache cleanup error is not fatal", func(t *testing.T) {
		buckets := new(MockBucketCleaner)
		ledger := new(MockLedger)
		cache := new(MockCacheCleaner)
		buckets.On("CleanupStale", ctx).Return(int64(0), nil)
		ledger.On("PurgeOlderThan", ctx, cutoff).Return(int64(0), nil)
		cache.On("CleanupExpired", ctx).Return(int64(0), errors.New("relation does not exist"))

		_, err := newTestRunner(buckets, ledger, WithCache(cache)).Run(ctx)
		assert.NoError(t, err)
	})

	t.Run("custom retention", func(t *testing.T) {
		buckets := new(MockBucketCleaner)
		ledger := new(MockLedger)
		buckets.On("CleanupStale", ctx).Return(int64(0), nil)
		ledger.On("PurgeOlderThan", ctx, testNow.Add(-90*24*time.Hour)).Return(int64(0), nil)

		_, err := newTestRunner(buckets, ledger, WithRetention(90*24*time.Hour)).Run(ctx)
		require.NoError(t, err)
		ledger.AssertExpectations(t)
	})
}
