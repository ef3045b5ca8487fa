package webhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/events"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
)

const testSecret = "whsec_test"

var gateNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) IsAlreadyProcessed(ctx context.Context, webhookID string) (bool, error) {
	args := m.Called(ctx, webhookID)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) IsDuplicatePayload(ctx context.Context, payloadHash, source string, since time.Time) (bool, error) {
	args := m.Called(ctx, payloadHash, source, since)
	return args.Bool(0), args.Error(1)
}

func (m *MockLedger) Claim(ctx context.Context, ev *domain.WebhookEvent) (domain.Claim, error) {
	args := m.Called(ctx, ev)
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return args.Get(0).(domain.Claim), args.Error(1)
}

func (m *MockLedger) Record(ctx context.Context, ev *domain.WebhookEvent) error {
	args := m.Called(ctx, ev)
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *MockLedger) Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization) error {
	args := m.Called(ctx, id, f)
	return args.Error(0)
}

type MockAdmitter struct {
	mock.Mock
}

func (m *MockAdmitter) Admit(ctx context.Context, source, key string) (ratelimit.Decision, error) {
	args := m.Called(ctx, source, key)
	return args.Get(0).(ratelimit.Decision), args.Error(1)
}

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, source, eventType string, payload []byte) (domain.EventLinks, error) {
	args := m.Called(ctx, source, eventType, payload)
	return args.Get(0).(domain.EventLinks), args.Error(1)
}

type MockAuditLogger struct {
	mock.Mock
}

func (m *MockAuditLogger) Log(ctx context.Context, event audit.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type gateFixture struct {
	ledger    *MockLedger
	limiter   *MockAdmitter
	processor *MockProcessor
	audit     *MockAuditLogger
	publisher *recordingPublisher
	gate      *Gate
}

func newGateFixture() *gateFixture {
	f := &gateFixture{
		ledger:    new(MockLedger),
		limiter:   new(MockAdmitter),
		processor: new(MockProcessor),
		audit:     new(MockAuditLogger),
		publisher: &recordingPublisher{},
	}
	registry := NewRegistry(
		SourceConfig{Name: "stripe", Tier: ratelimit.TierPartner, Secret: testSecret, Scheme: SchemeTimestampedHMAC, RequireTimestamp: true},
		SourceConfig{Name: "teachable", Secret: testSecret, Scheme: SchemeHMACSHA256},
	)
	f.gate = NewGate(f.ledger, f.limiter, f.processor, registry,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithPublisher(f.publisher),
		WithAudit(f.audit),
		WithClock(func() time.Time { return gateNow }),
	)
	return f
}

func (f *gateFixture) assertExpectations(t *testing.T) {
	t.Helper()
	f.ledger.AssertExpectations(t)
	f.limiter.AssertExpectations(t)
	f.processor.AssertExpectations(t)
	f.audit.AssertExpectations(t)
}

var testPayload = []byte(`{"event_type":"invoice.paid","contact":{"email":"ana@example.com"}}`)

func teachableDelivery() Delivery {
	return Delivery{
		Source:    "teachable",
		WebhookID: "evt_1",
		EventType: "sale.completed",
		Timestamp: gateNow.Add(-10 * time.Second),
		Signature: Sign(testSecret, testPayload),
		Payload:   testPayload,
		IPAddress: "203.0.113.7",
		RequestID: "req_test",
	}
}

func stripeDelivery(ts time.Time) Delivery {
	return Delivery{
		Source:    "stripe",
		WebhookID: "evt_stripe",
		EventType: "invoice.paid",
		Signature: SignTimestamped(testSecret, ts, testPayload),
		Payload:   testPayload,
		IPAddress: "198.51.100.1",
		RequestID: "req_stripe",
	}
}

func allowed() ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Remaining: 49, Capacity: 50, RefillRate: 2}
}

func auditRow(status domain.WebhookStatus) interface{} {
	return mock.MatchedBy(func(ev *domain.WebhookEvent) bool {
		return ev.Status == status && ev.WebhookID == nil && ev.ExternalID != ""
	})
}

func TestGate_Processed(t *testing.T) {
	f := newGateFixture()
	contactID := uuid.New()
	links := domain.EventLinks{ContactID: &contactID}
	ctx := context.Background()

	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
	f.limiter.On("Admit", ctx, "teachable", "default").Return(allowed(), nil)
	f.ledger.On("Claim", ctx, mock.MatchedBy(func(ev *domain.WebhookEvent) bool {
		return ev.WebhookID != nil && *ev.WebhookID == "evt_1" &&
			ev.PayloadHash == PayloadHash(testPayload) &&
			ev.SignatureValid != nil && *ev.SignatureValid
	})).Return(domain.Claim{Acquired: true}, nil)
	f.ledger.On("IsDuplicatePayload", ctx, PayloadHash(testPayload), "teachable", gateNow.Add(-domain.DuplicateWindow)).Return(false, nil)
	f.processor.On("Process", ctx, "teachable", "sale.completed", testPayload).Return(links, nil)
	f.ledger.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(fin domain.Finalization) bool {
		return fin.Status == domain.StatusSuccess && fin.Links.ContactID != nil && *fin.Links.ContactID == contactID
	})).Return(nil)

	res, err := f.gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, res.Outcome)
	assert.Equal(t, "req_test", res.RequestID)
	assert.NotNil(t, res.EventID)
	assert.Equal(t, &contactID, res.Links.ContactID)
	assert.Equal(t, []string{events.TopicWebhookProcessed, events.TopicWebhookOutcome}, f.publisher.topics)
	f.assertExpectations(t)
}

func TestGate_AlreadyProcessedIsDuplicate(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(true, nil)
	f.ledger.On("Record", ctx, auditRow(domain.StatusDuplicate)).Return(nil)

	res, err := f.gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, res.Outcome)
	assert.True(t, res.Outcome.Acknowledged())
	f.limiter.AssertNotCalled(t, "Admit", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestGate_ReplayWindow(t *testing.T) {
	tests := []struct {
		name       string
		claimedAgo time.Duration
		wantReplay bool
	}{
		{name: "5m1s in the past", claimedAgo: 5*time.Minute + time.Second, wantReplay: true},
		{name: "4m59s in the past", claimedAgo: 4*time.Minute + 59*time.Second},
		{name: "2m in the future", claimedAgo: -2 * time.Minute, wantReplay: true},
		{name: "30s in the future", claimedAgo: -30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture()
			ctx := context.Background()
			d := stripeDelivery(gateNow.Add(-tt.claimedAgo))

			f.ledger.On("IsAlreadyProcessed", ctx, "evt_stripe").Return(false, nil)
			if tt.wantReplay {
				f.ledger.On("Record", ctx, mock.MatchedBy(func(ev *domain.WebhookEvent) bool {
					return ev.Status == domain.StatusFailed && ev.ErrorCode != nil && *ev.ErrorCode == "REPLAY_REJECTED"
				})).Return(nil)
				f.audit.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
					return e.EventType == audit.EventReplayRejected && e.WebhookID == "evt_stripe"
				})).Return(nil)
			} else {
				f.limiter.On("Admit", ctx, "stripe", "default").Return(ratelimit.Decision{Allowed: false, RetryAfter: time.Second}, nil)
				f.ledger.On("Record", ctx, auditRow(domain.StatusFailed)).Return(nil)
			}

			res, err := f.gate.Handle(ctx, d)
			require.NoError(t, err)
			if tt.wantReplay {
				assert.Equal(t, domain.OutcomeReplayRejected, res.Outcome)
				assert.Contains(t, f.publisher.topics, events.TopicSecurityRejected)
			} else {
				assert.Equal(t, domain.OutcomeThrottled, res.Outcome, "accepted timestamps reach the limiter")
			}
			f.assertExpectations(t)
		})
	}
}

func TestGate_MissingTimestamp(t *testing.T) {
	t.Run("required by source", func(t *testing.T) {
		f := newGateFixture()
		ctx := context.Background()
		d := stripeDelivery(gateNow)
		d.Signature = "v1=deadbeef"

		f.ledger.On("IsAlreadyProcessed", ctx, "evt_stripe").Return(false, nil)
		f.ledger.On("Record", ctx, auditRow(domain.StatusFailed)).Return(nil)
		f.audit.On("Log", ctx, mock.Anything).Return(nil)

		res, err := f.gate.Handle(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeReplayRejected, res.Outcome)
		assert.Equal(t, "missing webhook timestamp", res.Reason)
		f.assertExpectations(t)
	})

	t.Run("optional for source", func(t *testing.T) {
		f := newGateFixture()
		ctx := context.Background()
		d := teachableDelivery()
		d.Timestamp = time.Time{}

		f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
		f.limiter.On("Admit", ctx, "teachable", "default").Return(ratelimit.Decision{Allowed: false}, nil)
		f.ledger.On("Record", ctx, auditRow(domain.StatusFailed)).Return(nil)

		res, err := f.gate.Handle(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeThrottled, res.Outcome)
		f.assertExpectations(t)
	})
}

func TestGate_Throttled(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	decision := ratelimit.Decision{Allowed: false, Remaining: 0.4, Capacity: 50, RefillRate: 2, RetryAfter: 300 * time.Millisecond}
	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
	f.limiter.On("Admit", ctx, "teachable", "default").Return(decision, nil)
	f.ledger.On("Record", ctx, mock.MatchedBy(func(ev *domain.WebhookEvent) bool {
		return ev.Status == domain.StatusFailed && *ev.ErrorCode == "THROTTLED" && ev.SignatureValid == nil
	})).Return(nil)

	res, err := f.gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeThrottled, res.Outcome)
	require.NotNil(t, res.Decision)
	assert.Equal(t, 300*time.Millisecond, res.Decision.RetryAfter)
	assert.True(t, res.Outcome.Retryable())
	f.processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestGate_InvalidSignature(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	d := teachableDelivery()
	d.Signature = Sign("wrong-secret", d.Payload)

	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
	f.limiter.On("Admit", ctx, "teachable", "default").Return(allowed(), nil)
	f.ledger.On("Record", ctx, mock.MatchedBy(func(ev *domain.WebhookEvent) bool {
		return ev.Status == domain.StatusFailed && ev.SignatureValid != nil && !*ev.SignatureValid &&
			*ev.ErrorCode == "INVALID_SIGNATURE"
	})).Return(nil)
	f.audit.On("Log", ctx, mock.MatchedBy(func(e audit.Event) bool {
		return e.EventType == audit.EventInvalidSignature && e.IPAddress == "203.0.113.7"
	})).Return(nil)

	res, err := f.gate.Handle(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInvalidSignature, res.Outcome)
	assert.True(t, res.Outcome.IsSecurityEvent())
	f.assertExpectations(t)
}

func TestGate_UnknownSourceSharesBucketByIP(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	d := teachableDelivery()
	d.Source = "Mystery"

	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
	f.limiter.On("Admit", ctx, ratelimit.UnknownSource, "203.0.113.7").Return(allowed(), nil)
	f.ledger.On("Record", ctx, mock.MatchedBy(func(ev *domain.WebhookEvent) bool {
		return ev.Source == "mystery" && *ev.ErrorCode == "INVALID_SIGNATURE"
	})).Return(nil)
	f.audit.On("Log", ctx, mock.Anything).Return(nil)

	res, err := f.gate.Handle(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeInvalidSignature, res.Outcome, "unknown sources never verify")
	f.assertExpectations(t)
}

func TestGate_ClaimConflict(t *testing.T) {
	tests := []struct {
		name     string
		existing domain.WebhookStatus
		want     domain.Outcome
	}{
		{name: "holder still processing", existing: domain.StatusProcessing, want: domain.OutcomeInFlight},
		{name: "holder finished", existing: domain.StatusSuccess, want: domain.OutcomeDuplicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newGateFixture()
			ctx := context.Background()

			f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
			f.limiter.On("Admit", ctx, "teachable", "default").Return(allowed(), nil)
			f.ledger.On("Claim", ctx, mock.Anything).Return(domain.Claim{Existing: tt.existing}, nil)
			f.ledger.On("Record", ctx, auditRow(domain.StatusDuplicate)).Return(nil)

			res, err := f.gate.Handle(ctx, teachableDelivery())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Outcome)
			f.processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			f.assertExpectations(t)
		})
	}
}

func TestGate_DuplicatePayload(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
	f.limiter.On("Admit", ctx, "teachable", "default").Return(allowed(), nil)
	f.ledger.On("Claim", ctx, mock.Anything).Return(domain.Claim{Acquired: true}, nil)
	f.ledger.On("IsDuplicatePayload", ctx, mock.Anything, "teachable", mock.Anything).Return(true, nil)
	f.ledger.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(fin domain.Finalization) bool {
		return fin.Status == domain.StatusDuplicate && fin.ErrorCode == "DUPLICATE_PAYLOAD"
	})).Return(nil)

	res, err := f.gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicatePayload, res.Outcome)
	assert.True(t, res.Outcome.Acknowledged())
	f.processor.AssertNotCalled(t, "Process", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestGate_ProcessingFailed(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()

	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
	f.limiter.On("Admit", ctx, "teachable", "default").Return(allowed(), nil)
	f.ledger.On("Claim", ctx, mock.Anything).Return(domain.Claim{Acquired: true}, nil)
	f.ledger.On("IsDuplicatePayload", ctx, mock.Anything, "teachable", mock.Anything).Return(false, nil)
	f.processor.On("Process", ctx, "teachable", "sale.completed", testPayload).
		Return(domain.EventLinks{}, domain.ErrInvalidPayload.WithError(errors.New("contact.email is required")))
	f.ledger.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(fin domain.Finalization) bool {
		return fin.Status == domain.StatusFailed && fin.ErrorCode == "INVALID_PAYLOAD"
	})).Return(nil)

	res, err := f.gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessingFailed, res.Outcome)
	assert.True(t, res.Outcome.Retryable())
	assert.NotContains(t, f.publisher.topics, events.TopicWebhookProcessed)
	f.assertExpectations(t)
}

func TestGate_InfrastructureErrors(t *testing.T) {
	t.Run("ledger unavailable", func(t *testing.T) {
		f := newGateFixture()
		ctx := context.Background()
		boom := errors.New("connection refused")

		f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, boom)

		_, err := f.gate.Handle(ctx, teachableDelivery())
		assert.ErrorIs(t, err, boom)
		assert.Empty(t, f.publisher.topics)
		f.assertExpectations(t)
	})

	t.Run("failure after claim releases it", func(t *testing.T) {
		f := newGateFixture()
		ctx := context.Background()
		boom := errors.New("statement timeout")

		f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
		f.limiter.On("Admit", ctx, "teachable", "default").Return(allowed(), nil)
		f.ledger.On("Claim", ctx, mock.Anything).Return(domain.Claim{Acquired: true}, nil)
		f.ledger.On("IsDuplicatePayload", ctx, mock.Anything, "teachable", mock.Anything).Return(false, boom)
		f.ledger.On("Finalize", mock.Anything, mock.Anything, mock.MatchedBy(func(fin domain.Finalization) bool {
			return fin.Status == domain.StatusFailed && fin.ErrorCode == "INTERNAL_ERROR"
		})).Return(nil)

		_, err := f.gate.Handle(ctx, teachableDelivery())
		assert.ErrorIs(t, err, boom)
		f.assertExpectations(t)
	})

	t.Run("limiter unavailable", func(t *testing.T) {
		f := newGateFixture()
		ctx := context.Background()

		f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(false, nil)
		f.limiter.On("Admit", ctx, "teachable", "default").Return(ratelimit.Decision{}, errors.New("lock timeout"))

		_, err := f.gate.Handle(ctx, teachableDelivery())
		assert.Error(t, err)
		f.assertExpectations(t)
	})
}

func TestGate_RejectsMalformedDelivery(t *testing.T) {
	f := newGateFixture()

	d := teachableDelivery()
	d.WebhookID = ""
	_, err := f.gate.Handle(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	d = teachableDelivery()
	d.Payload = nil
	_, err = f.gate.Handle(context.Background(), d)
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	f.assertExpectations(t)
}

func TestGate_OversizedRequestIDIsReplaced(t *testing.T) {
	f := newGateFixture()
	ctx := context.Background()
	upstream := strings.Repeat("a", 65)

	f.ledger.On("IsAlreadyProcessed", ctx, "evt_1").Return(true, nil)
	f.ledger.On("Record", ctx, mock.MatchedBy(func(ev *domain.WebhookEvent) bool {
		return ev.Status == domain.StatusDuplicate &&
			strings.HasPrefix(ev.RequestID, "req_") &&
			len(ev.RequestID) <= 64
	})).Return(nil)

	d := teachableDelivery()
	d.RequestID = upstream
	res, err := f.gate.Handle(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicate, res.Outcome)
	assert.NotEqual(t, upstream, res.RequestID)
	f.assertExpectations(t)
}

// memoryLedger mirrors the ledger's claim semantics for end-to-end gate tests
type memoryLedger struct {
	mu     sync.Mutex
	rows   map[uuid.UUID]*domain.WebhookEvent
	claims map[string]uuid.UUID
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{rows: map[uuid.UUID]*domain.WebhookEvent{}, claims: map[string]uuid.UUID{}}
}

func (l *memoryLedger) IsAlreadyProcessed(_ context.Context, webhookID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.claims[webhookID]
	if !ok {
		return false, nil
	}
	s := l.rows[id].Status
	return s == domain.StatusSuccess || s == domain.StatusDuplicate, nil
}

func (l *memoryLedger) IsDuplicatePayload(_ context.Context, hash, source string, since time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.rows {
		if r.PayloadHash == hash && r.Source == source && r.Status == domain.StatusSuccess && r.ReceivedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

func (l *memoryLedger) Claim(_ context.Context, ev *domain.WebhookEvent) (domain.Claim, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id, ok := l.claims[*ev.WebhookID]; ok {
		return domain.Claim{Existing: l.rows[id].Status}, nil
	}
	ev.ID = uuid.New()
	ev.Status = domain.StatusProcessing
	row := *ev
	l.rows[ev.ID] = &row
	l.claims[*ev.WebhookID] = ev.ID
	return domain.Claim{Acquired: true}, nil
}

func (l *memoryLedger) Record(_ context.Context, ev *domain.WebhookEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ev.ID = uuid.New()
	row := *ev
	l.rows[ev.ID] = &row
	return nil
}

func (l *memoryLedger) Finalize(_ context.Context, id uuid.UUID, f domain.Finalization) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.rows[id]
	if !ok || row.Status != domain.StatusProcessing {
		return domain.ErrInvalidTransition
	}
	row.Status = f.Status
	if f.Status == domain.StatusFailed {
		delete(l.claims, *row.WebhookID)
		row.WebhookID = nil
	}
	return nil
}

func (l *memoryLedger) count(status domain.WebhookStatus) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.rows {
		if r.Status == status {
			n++
		}
	}
	return n
}

type countingProcessor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (p *countingProcessor) Process(context.Context, string, string, []byte) (domain.EventLinks, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		p.fail = false
		return domain.EventLinks{}, errors.New("crm unavailable")
	}
	return domain.EventLinks{}, nil
}

func newMemoryGate(ledger Ledger, processor Processor) *Gate {
	registry := NewRegistry(SourceConfig{Name: "teachable", Tier: ratelimit.TierPartner, Secret: testSecret})
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.NewPolicies(registry.Tiers())).
		WithClock(func() time.Time { return gateNow })
	return NewGate(ledger, limiter, processor, registry,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return gateNow }),
	)
}

func TestGate_SameWebhookTwiceHasOneEffect(t *testing.T) {
	ledger := newMemoryLedger()
	processor := &countingProcessor{}
	gate := newMemoryGate(ledger, processor)
	ctx := context.Background()

	first, err := gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	second, err := gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)

	assert.Equal(t, domain.OutcomeProcessed, first.Outcome)
	assert.Equal(t, domain.OutcomeDuplicate, second.Outcome)
	assert.Equal(t, 1, processor.calls)
	assert.Equal(t, 1, ledger.count(domain.StatusSuccess))
	assert.Equal(t, 1, ledger.count(domain.StatusDuplicate))
}

func TestGate_FailedProcessingCanBeRetried(t *testing.T) {
	ledger := newMemoryLedger()
	processor := &countingProcessor{fail: true}
	gate := newMemoryGate(ledger, processor)
	ctx := context.Background()

	first, err := gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessingFailed, first.Outcome)

	retry, err := gate.Handle(ctx, teachableDelivery())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeProcessed, retry.Outcome)

	assert.Equal(t, 2, processor.calls)
	assert.Equal(t, 1, ledger.count(domain.StatusSuccess))
	assert.Equal(t, 1, ledger.count(domain.StatusFailed))
}

func TestGate_ConcurrentDeliveriesOfOneWebhook(t *testing.T) {
	ledger := newMemoryLedger()
	processor := &countingProcessor{}
	gate := newMemoryGate(ledger, processor)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := teachableDelivery()
			d.RequestID = "req_" + strconv.Itoa(i)
			_, err := gate.Handle(context.Background(), d)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, processor.calls, "at most one business effect per webhook id")
	assert.Equal(t, 1, ledger.count(domain.StatusSuccess))
}
