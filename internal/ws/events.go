package ws

import (
	"time"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/events"
	"github.com/saturnino-fabrica-de-software/hookgate/internal/health"
)

// Event is one message pushed to feed subscribers
type Event struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// sourceOf extracts the webhook source an event belongs to, if any
func sourceOf(event any) string {
	switch e := event.(type) {
	case events.WebhookOutcome:
		return e.Source
	case events.WebhookProcessed:
		return e.Source
	case events.SecurityRejected:
		return e.Source
	case health.Alert:
		return e.Source
	}
	return ""
}

// visibleTo reports whether a subscriber filtered on source receives e.
// Events without a source, such as maintenance runs and global alerts, go to everyone.
func (e Event) visibleTo(source string) bool {
	return source == "" || e.Source == "" || e.Source == source || e.Source == health.AllSources
}
