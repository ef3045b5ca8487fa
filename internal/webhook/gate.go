package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/audit"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/events"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/idgen"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
)

// Ledger is the webhook event store used by the gate
type Ledger interface {
	IsAlreadyProcessed(ctx context.Context, webhookID string) (bool, error)
	IsDuplicatePayload(ctx context.Context, payloadHash, source string, since time.Time) (bool, error)
	Claim(ctx context.Context, ev *domain.WebhookEvent) (domain.Claim, error)
	Record(ctx context.Context, ev *domain.WebhookEvent) error
	Finalize(ctx context.Context, id uuid.UUID, f domain.Finalization) error
}

// Admitter consumes rate limit tokens
type Admitter interface {
	Admit(ctx context.Context, source, key string) (ratelimit.Decision, error)
}

// Processor applies the business effect of a verified delivery
type Processor interface {
	Process(ctx context.Context, source, eventType string, payload []byte) (domain.EventLinks, error)
}

// Recorder receives admission metrics
type Recorder interface {
	ObserveAdmission(source string, allowed bool)
	ObserveOutcome(source string, outcome domain.Outcome)
	ObserveProcessing(source string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAdmission(string, bool)           {}
func (nopRecorder) ObserveOutcome(string, domain.Outcome)   {}
func (nopRecorder) ObserveProcessing(string, time.Duration) {}

// GateOption configures optional gate collaborators
type GateOption func(*Gate)

func WithPublisher(p events.Publisher) GateOption {
	return func(g *Gate) { g.publisher = p }
}

func WithAudit(l audit.Logger) GateOption {
	return func(g *Gate) { g.audit = l }
}

func WithRecorder(r Recorder) GateOption {
	return func(g *Gate) { g.metrics = r }
}

func WithClock(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// Gate runs inbound deliveries through admission control: idempotency,
// replay window, rate limit, signature, claim, duplicate payload, then the
// business effect. Every delivery ends with exactly one ledger row.
type Gate struct {
	ledger    Ledger
	limiter   Admitter
	processor Processor
	sources   *Registry
	publisher events.Publisher
	audit     audit.Logger
	metrics   Recorder
	logger    *slog.Logger
	now       func() time.Time
}

func NewGate(ledger Ledger, limiter Admitter, processor Processor, sources *Registry, logger *slog.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		ledger:    ledger,
		limiter:   limiter,
		processor: processor,
		sources:   sources,
		publisher: &events.NoopPublisher{},
		audit:     &audit.NoOpLogger{},
		metrics:   nopRecorder{},
		logger:    logger.With("component", "gate"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Handle decides one delivery. Expected rejections come back as a Result
// outcome; the error is only set for infrastructure failures.
func (g *Gate) Handle(ctx context.Context, d Delivery) (Result, error) {
	if d.RequestID == "" || len(d.RequestID) > maxRequestIDLength {
		if d.UpstreamRequestID == "" {
			d.UpstreamRequestID = d.RequestID
		}
		d.RequestID = idgen.RequestID()
	}
	if err := domain.ValidateStruct(d); err != nil {
		return Result{RequestID: d.RequestID}, domain.ErrBadRequest.WithError(err)
	}

	src := g.sources.Lookup(d.Source)
	d.Source = src.Name
	start := g.now()
	ev := newLedgerEvent(d, start)

	res, err := g.admit(ctx, d, src, ev, start)

	logAttrs := []any{
		"request_id", res.RequestID,
		"source", d.Source,
		"webhook_id", d.WebhookID,
		"outcome", res.Outcome,
	}
	if d.UpstreamRequestID != "" {
		logAttrs = append(logAttrs, "upstream_request_id", d.UpstreamRequestID)
	}
	if err != nil {
		g.logger.ErrorContext(ctx, "webhook admission failed", append(logAttrs, "error", err)...)
		return res, err
	}

	g.metrics.ObserveOutcome(d.Source, res.Outcome)
	g.publish(ctx, events.TopicWebhookOutcome, events.WebhookOutcome{
		RequestID:  res.RequestID,
		EventID:    res.EventID,
		WebhookID:  d.WebhookID,
		Source:     d.Source,
		EventType:  d.EventType,
		Outcome:    res.Outcome,
		OccurredAt: start,
	})
	g.logger.InfoContext(ctx, "webhook handled", logAttrs...)

	return res, nil
}

func (g *Gate) admit(ctx context.Context, d Delivery, src SourceConfig, ev *domain.WebhookEvent, start time.Time) (Result, error) {
	res := Result{RequestID: d.RequestID}

	processed, err := g.ledger.IsAlreadyProcessed(ctx, d.WebhookID)
	if err != nil {
		return res, err
	}
	if processed {
		return g.reject(ctx, res, ev, domain.OutcomeDuplicate, "webhook already processed")
	}

	claimed := d.Timestamp
	if src.Scheme == SchemeTimestampedHMAC {
		if ts, ok := TimestampFromSignature(d.Signature); ok {
			claimed = ts
		}
	}
	if !claimed.IsZero() {
		ev.WebhookTimestamp = &claimed
	}
	if reason := replayReason(claimed, start, src.RequireTimestamp); reason != "" {
		return g.reject(ctx, res, ev, domain.OutcomeReplayRejected, reason)
	}

	decision, err := g.limiter.Admit(ctx, src.BucketSource(), src.BucketKey(d.IPAddress))
	if err != nil {
		return res, fmt.Errorf("admit: %w", err)
	}
	g.metrics.ObserveAdmission(d.Source, decision.Allowed)
	res.Decision = &decision
	if !decision.Allowed {
		return g.reject(ctx, res, ev, domain.OutcomeThrottled, "rate limit exceeded")
	}

	valid := src.VerifySignature(d.Payload, d.Signature)
	ev.SignatureValid = &valid
	if !valid {
		return g.reject(ctx, res, ev, domain.OutcomeInvalidSignature, "signature verification failed")
	}

	claimRow := *ev
	claimRow.WebhookID = &d.WebhookID
	claim, err := g.ledger.Claim(ctx, &claimRow)
	if err != nil {
		return res, err
	}
	if !claim.Acquired {
		if claim.Existing == domain.StatusProcessing {
			return g.reject(ctx, res, ev, domain.OutcomeInFlight, "webhook is being processed")
		}
		return g.reject(ctx, res, ev, domain.OutcomeDuplicate, "webhook already processed")
	}
	res.EventID = &claimRow.ID

	dup, err := g.ledger.IsDuplicatePayload(ctx, ev.PayloadHash, d.Source, start.Add(-domain.DuplicateWindow))
	if err != nil {
		g.release(ctx, claimRow.ID, start, "INTERNAL_ERROR", err)
		return res, err
	}
	if dup {
		res.Outcome = domain.OutcomeDuplicatePayload
		res.Reason = "payload already processed"
		return res, g.finalize(ctx, claimRow.ID, domain.Finalization{
			Status:       domain.StatusDuplicate,
			DurationMs:   g.since(start),
			ErrorCode:    "DUPLICATE_PAYLOAD",
			ErrorMessage: res.Reason,
			CompletedAt:  g.now(),
		})
	}

	processStart := g.now()
	links, perr := g.processor.Process(ctx, d.Source, d.EventType, d.Payload)
	g.metrics.ObserveProcessing(d.Source, g.now().Sub(processStart))
	if perr != nil {
		code := "PROCESSING_FAILED"
		var appErr *domain.AppError
		if errors.As(perr, &appErr) {
			code = appErr.Code
		}
		g.logger.WarnContext(ctx, "webhook processing failed",
			"request_id", d.RequestID,
			"source", d.Source,
			"webhook_id", d.WebhookID,
			"error_code", code,
			"error", perr,
		)
		res.Outcome = domain.OutcomeProcessingFailed
		res.Reason = perr.Error()
		return res, g.finalize(ctx, claimRow.ID, domain.Finalization{
			Status:       domain.StatusFailed,
			DurationMs:   g.since(start),
			ErrorCode:    code,
			ErrorMessage: perr.Error(),
			CompletedAt:  g.now(),
		})
	}

	if err := g.finalize(ctx, claimRow.ID, domain.Finalization{
		Status:      domain.StatusSuccess,
		DurationMs:  g.since(start),
		Links:       links,
		CompletedAt: g.now(),
	}); err != nil {
		return res, err
	}

	res.Outcome = domain.OutcomeProcessed
	res.Links = links
	g.publish(ctx, events.TopicWebhookProcessed, events.WebhookProcessed{
		EventID:   claimRow.ID,
		WebhookID: d.WebhookID,
		Source:    d.Source,
		EventType: d.EventType,
		Links:     links,
	})
	return res, nil
}

// reject writes the audit row of a delivery that did not claim its id
func (g *Gate) reject(ctx context.Context, res Result, ev *domain.WebhookEvent, outcome domain.Outcome, reason string) (Result, error) {
	row := *ev
	row.ID = uuid.Nil
	row.Status = outcome.LedgerStatus()
	duration := g.since(ev.ReceivedAt)
	row.ProcessingDurationMs = &duration
	completed := g.now()
	row.CompletedAt = &completed
	if appErr := outcome.AppError(); appErr != nil {
		row.ErrorCode = &appErr.Code
	}
	row.ErrorMessage = &reason

	res.Outcome = outcome
	res.Reason = reason

	if err := g.ledger.Record(ctx, &row); err != nil {
		return res, err
	}
	res.EventID = &row.ID

	if outcome.IsSecurityEvent() {
		g.securityEvent(ctx, res, ev, outcome, reason)
	}
	return res, nil
}

func (g *Gate) securityEvent(ctx context.Context, res Result, ev *domain.WebhookEvent, outcome domain.Outcome, reason string) {
	eventType := audit.EventInvalidSignature
	if outcome == domain.OutcomeReplayRejected {
		eventType = audit.EventReplayRejected
	}

	if err := g.audit.Log(ctx, audit.Event{
		EventType: eventType,
		RequestID: res.RequestID,
		WebhookID: ev.ExternalID,
		Source:    ev.Source,
		Reason:    reason,
		IPAddress: ev.IPAddress,
		UserAgent: ev.UserAgent,
	}); err != nil {
		g.logger.WarnContext(ctx, "failed to write audit event", "error", err)
	}

	g.publish(ctx, events.TopicSecurityRejected, events.SecurityRejected{
		RequestID: res.RequestID,
		WebhookID: ev.ExternalID,
		Source:    ev.Source,
		Outcome:   outcome,
		IPAddress: ev.IPAddress,
	})
}

// finalize survives caller cancellation so a claimed row never stays processing
// because the client went away.
func (g *Gate) finalize(ctx context.Context, id uuid.UUID, f domain.Finalization) error {
	return g.ledger.Finalize(context.WithoutCancel(ctx), id, f)
}

// release marks a claimed row failed after an infrastructure error so a retry can reclaim the id
func (g *Gate) release(ctx context.Context, id uuid.UUID, start time.Time, code string, cause error) {
	err := g.finalize(ctx, id, domain.Finalization{
		Status:       domain.StatusFailed,
		DurationMs:   g.since(start),
		ErrorCode:    code,
		ErrorMessage: cause.Error(),
		CompletedAt:  g.now(),
	})
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to release webhook claim", "event_id", id, "error", err)
	}
}

func (g *Gate) publish(ctx context.Context, topic string, event any) {
	if err := g.publisher.Publish(ctx, topic, event); err != nil {
		g.logger.WarnContext(ctx, "failed to publish event", "topic", topic, "error", err)
	}
}

func (g *Gate) since(start time.Time) int64 {
	ms := g.now().Sub(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func replayReason(claimed, now time.Time, required bool) string {
	if claimed.IsZero() {
		if required {
			return "missing webhook timestamp"
		}
		return ""
	}
	if IsReplayAttack(claimed, now) {
		return fmt.Sprintf("timestamp outside accepted window (skew %s)", now.Sub(claimed).Round(time.Second))
	}
	return ""
}

func newLedgerEvent(d Delivery, now time.Time) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ExternalID:      d.WebhookID,
		RequestID:       d.RequestID,
		Source:          d.Source,
		EventType:       d.EventType,
		IPAddress:       d.IPAddress,
		UserAgent:       d.UserAgent,
		SignatureHeader: d.Signature,
		ReceivedAt:      now,
		PayloadHash:     PayloadHash(d.Payload),
		PayloadSize:     len(d.Payload),
	}
}
