package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

// Event topic constants
const (
	TopicWebhookOutcome   = "hookgate.webhook.outcome"
	TopicWebhookProcessed = "hookgate.webhook.processed"
	TopicSecurityRejected = "hookgate.security.rejected"
	TopicHealthAlert      = "hookgate.health.alert"
	TopicMaintenanceRun   = "hookgate.maintenance.completed"
)

// WebhookOutcome is emitted for every delivery that went through the gate
type WebhookOutcome struct {
	RequestID  string         `json:"request_id"`
	EventID    *uuid.UUID     `json:"event_id,omitempty"`
	WebhookID  string         `json:"webhook_id"`
	Source     string         `json:"source"`
	EventType  string         `json:"event_type,omitempty"`
	Outcome    domain.Outcome `json:"outcome"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// WebhookProcessed is emitted after the CRM write committed
type WebhookProcessed struct {
	EventID   uuid.UUID         `json:"event_id"`
	WebhookID string            `json:"webhook_id"`
	Source    string            `json:"source"`
	EventType string            `json:"event_type"`
	Links     domain.EventLinks `json:"links"`
}

// SecurityRejected is emitted for replayed or badly signed deliveries
type SecurityRejected struct {
	RequestID string         `json:"request_id"`
	WebhookID string         `json:"webhook_id"`
	Source    string         `json:"source"`
	Outcome   domain.Outcome `json:"outcome"`
	IPAddress string         `json:"ip_address,omitempty"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
