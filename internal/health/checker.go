package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/events"
)

// AlertWindow is the window alerts are evaluated over
const AlertWindow = 24 * time.Hour

type StatsReader interface {
	Stats(ctx context.Context, since time.Time) ([]SourceStats, error)
}

type AlertSender interface {
	Send(ctx context.Context, status Severity, alerts []Alert) error
}

// Checker builds stats and alert reports from the ledger
type Checker struct {
	stats      StatsReader
	thresholds Thresholds
	notifier   AlertSender
	publisher  events.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

type CheckerOption func(*Checker)

func WithThresholds(t Thresholds) CheckerOption {
	return func(c *Checker) { c.thresholds = t }
}

// WithNotifier enables Notify; without it alerts are only published
func WithNotifier(n AlertSender) CheckerOption {
	return func(c *Checker) { c.notifier = n }
}

func WithPublisher(p events.Publisher) CheckerOption {
	return func(c *Checker) { c.publisher = p }
}

func WithClock(now func() time.Time) CheckerOption {
	return func(c *Checker) { c.now = now }
}

func NewChecker(stats StatsReader, logger *slog.Logger, opts ...CheckerOption) *Checker {
	c := &Checker{
		stats:      stats,
		thresholds: DefaultThresholds(),
		publisher:  &events.NoopPublisher{},
		logger:     logger.With("component", "health"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the per-source rollup for the last windowHours
func (c *Checker) Stats(ctx context.Context, windowHours int) (Stats, error) {
	if windowHours <= 0 || windowHours > 24*30 {
		return Stats{}, fmt.Errorf("window hours must be between 1 and 720, got %d", windowHours)
	}

	now := c.now()
	sources, err := c.stats.Stats(ctx, now.Add(-time.Duration(windowHours)*time.Hour))
	if err != nil {
		return Stats{}, err
	}
	if sources == nil {
		sources = []SourceStats{}
	}

	return Stats{
		WindowHours: windowHours,
		GeneratedAt: now,
		Sources:     sources,
	}, nil
}

// Check evaluates the alert thresholds over AlertWindow
func (c *Checker) Check(ctx context.Context) (Report, error) {
	stats, err := c.Stats(ctx, int(AlertWindow/time.Hour))
	if err != nil {
		return Report{}, err
	}

	alerts := Evaluate(stats, c.thresholds, stats.GeneratedAt)
	if alerts == nil {
		alerts = []Alert{}
	}

	return Report{
		Status: Status(alerts),
		Stats:  stats,
		Alerts: alerts,
	}, nil
}

// Notify publishes each alert of report and posts them to the notifier
func (c *Checker) Notify(ctx context.Context, report Report) error {
	if len(report.Alerts) == 0 {
		return nil
	}

	for _, a := range report.Alerts {
		if err := c.publisher.Publish(ctx, events.TopicHealthAlert, a); err != nil {
			c.logger.WarnContext(ctx, "failed to publish alert", "alert", a.Name, "error", err)
		}
		c.logger.WarnContext(ctx, "health alert",
			"alert", a.Name,
			"severity", a.Severity,
			"source", a.Source,
			"value", a.Value,
			"threshold", a.Threshold,
		)
	}

	if c.notifier == nil {
		return nil
	}
	return c.notifier.Send(ctx, report.Status, report.Alerts)
}
