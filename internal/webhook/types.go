package webhook

import (
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/ratelimit"
)

// Delivery is one inbound webhook request as received
type Delivery struct {
	Source    string    `json:"source" validate:"required,max=100"`
	WebhookID string    `json:"webhook_id" validate:"required,max=255"`
	EventType string    `json:"event_type" validate:"max=100"`
	Timestamp time.Time `json:"timestamp"`
	Signature string    `json:"-"`
	Payload   []byte    `json:"-" validate:"min=1"`
	IPAddress string    `json:"ip_address" validate:"omitempty,ip"`
	UserAgent string    `json:"user_agent"`
	RequestID string    `json:"request_id"`

	// UpstreamRequestID is the caller's own trace id, logged for correlation
	UpstreamRequestID string `json:"upstream_request_id,omitempty"`
}

// maxRequestIDLength matches webhook_events.request_id
const maxRequestIDLength = 64

// Result is the gate's decision for a delivery
type Result struct {
	Outcome   domain.Outcome      `json:"outcome"`
	RequestID string              `json:"request_id"`
	EventID   *uuid.UUID          `json:"event_id,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Decision  *ratelimit.Decision `json:"-"`
	Links     domain.EventLinks   `json:"links"`
}
