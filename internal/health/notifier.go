package health

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/webhook"
)

const (
	notificationEvent = "health.alert"
	defaultAttempts   = 3
)

// NotificationPayload is the body posted to the alert webhook
type NotificationPayload struct {
	Type   string    `json:"type"`
	Status Severity  `json:"status"`
	Alerts []Alert   `json:"alerts"`
	SentAt time.Time `json:"sent_at"`
}

// Notifier posts alerts to an operator webhook, signed with the
// sha256=<hex> HMAC scheme
type Notifier struct {
	url         string
	secret      string
	client      *http.Client
	maxAttempts int
	backoff     func(attempt int) time.Duration
	logger      *slog.Logger
}

func NewNotifier(url, secret string, logger *slog.Logger) *Notifier {
	return &Notifier{
		url:    url,
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxAttempts: defaultAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
		logger: logger.With("component", "notifier"),
	}
}

// errPermanent marks responses that retrying will not fix
var errPermanent = errors.New("permanent notification failure")

// Send posts the alerts, retrying network errors and 5xx responses
func (n *Notifier) Send(ctx context.Context, status Severity, alerts []Alert) error {
	payload, err := json.Marshal(NotificationPayload{
		Type:   notificationEvent,
		Status: status,
		Alerts: alerts,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < n.maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(n.backoff(attempt)):
			}
		}

		lastErr = n.post(ctx, payload)
		if lastErr == nil {
			n.logger.InfoContext(ctx, "alert notification sent",
				"alerts", len(alerts),
				"status", status,
				"attempts", attempt+1,
			)
			return nil
		}
		if errors.Is(lastErr, errPermanent) {
			break
		}

		n.logger.WarnContext(ctx, "alert notification failed",
			"attempt", attempt+1,
			"error", lastErr,
		)
	}

	return fmt.Errorf("send notification: %w", lastErr)
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", errors.Join(errPermanent, err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Hookgate-Signature", webhook.Sign(n.secret, payload))
	req.Header.Set("X-Hookgate-Event", notificationEvent)
	req.Header.Set("User-Agent", "Hookgate-Alert/1.0")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("HTTP %d: %w", resp.StatusCode, errPermanent)
	}
	return nil
}
