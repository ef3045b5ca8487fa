package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// WebhookStatus is the lifecycle state of a ledger row
type WebhookStatus string

const (
	StatusProcessing WebhookStatus = "processing"
	StatusSuccess    WebhookStatus = "success"
	StatusFailed     WebhookStatus = "failed"
	StatusDuplicate  WebhookStatus = "duplicate"
)

var validStatuses = map[WebhookStatus]bool{
	StatusProcessing: true,
	StatusSuccess:    true,
	StatusFailed:     true,
	StatusDuplicate:  true,
}

// Retention windows for the ledger
const (
	EventRetention  = 30 * 24 * time.Hour
	DuplicateWindow = time.Hour
)

// IsValid reports whether s is a known status
func (s WebhookStatus) IsValid() bool {
	return validStatuses[s]
}

// IsTerminal reports whether no further transition is allowed from s
func (s WebhookStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusDuplicate
}

// CanTransitionTo enforces forward-only status changes: processing moves to a
// terminal status exactly once.
func (s WebhookStatus) CanTransitionTo(next WebhookStatus) bool {
	return s == StatusProcessing && next.IsTerminal()
}

// EventLinks are weak back-references to the CRM records a webhook touched
type EventLinks struct {
	ContactID      *uuid.UUID `json:"contact_id,omitempty"`
	TransactionID  *uuid.UUID `json:"transaction_id,omitempty"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
}

// WebhookEvent is one row of the webhook ledger.
//
// WebhookID holds the claim on the provider id and is only set on the row that
// owns the delivery; audit rows (duplicates, rejections) leave it nil and carry
// the provider id in ExternalID.
type WebhookEvent struct {
	ID                   uuid.UUID     `json:"id"`
	WebhookID            *string       `json:"webhook_id,omitempty"`
	ExternalID           string        `json:"external_id" validate:"required,max=255"`
	RequestID            string        `json:"request_id" validate:"required,max=64"`
	Source               string        `json:"source" validate:"required,max=100"`
	EventType            string        `json:"event_type,omitempty" validate:"max=100"`
	IPAddress            string        `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent            string        `json:"user_agent,omitempty"`
	SignatureValid       *bool         `json:"signature_valid,omitempty"`
	SignatureHeader      string        `json:"signature_header,omitempty"`
	WebhookTimestamp     *time.Time    `json:"webhook_timestamp,omitempty"`
	ReceivedAt           time.Time     `json:"received_at" validate:"required"`
	Status               WebhookStatus `json:"status" validate:"required,oneof=processing success failed duplicate"`
	ProcessingDurationMs *int64        `json:"processing_duration_ms,omitempty"`
	ErrorCode            *string       `json:"error_code,omitempty"`
	ErrorMessage         *string       `json:"error_message,omitempty"`
	PayloadHash          string        `json:"payload_hash" validate:"required,len=64,hexadecimal"`
	PayloadSize          int           `json:"payload_size" validate:"gte=0"`
	EventLinks
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Finalization is the terminal update applied to a claimed ledger row
type Finalization struct {
	Status       WebhookStatus
	DurationMs   int64
	ErrorCode    string
	ErrorMessage string
	Links        EventLinks
	CompletedAt  time.Time
}

// Validate checks the transition target of a finalization
func (f Finalization) Validate() error {
	if !StatusProcessing.CanTransitionTo(f.Status) {
		return errors.New("finalization status must be terminal")
	}
	if f.DurationMs < 0 {
		return errors.New("duration must not be negative")
	}
	return nil
}

// Claim reports the result of trying to own a webhook_id
type Claim struct {
	Acquired bool
	// Existing is the status of the row already holding the id when Acquired is false
	Existing WebhookStatus
}

// EventFilter narrows ledger listings
type EventFilter struct {
	Source string        `query:"source" validate:"omitempty,max=100"`
	Status WebhookStatus `query:"status" validate:"omitempty,oneof=processing success failed duplicate"`
	Since  time.Time     `query:"-"`
	Limit  int           `query:"limit" validate:"omitempty,min=1,max=500"`
}
