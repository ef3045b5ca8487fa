package docs

import (
	"github.com/go-swagno/swagno"
	"github.com/go-swagno/swagno/components/endpoint"
	"github.com/go-swagno/swagno/components/http/response"
	"github.com/go-swagno/swagno/components/mime"
	"github.com/go-swagno/swagno/components/parameter"
)

// WebhookResponse is returned for every delivery that reached the gate
type WebhookResponse struct {
	Outcome   string `json:"outcome" example:"processed"`
	RequestID string `json:"request_id" example:"req_V1StGXR8Z5jdHi6B"`
	EventID   string `json:"event_id,omitempty" example:"550e8400-e29b-41d4-a716-446655440000"`
}

// WebhookRejection is returned when the delivery was not accepted
type WebhookRejection struct {
	Outcome   string        `json:"outcome" example:"throttled"`
	RequestID string        `json:"request_id" example:"req_V1StGXR8Z5jdHi6B"`
	Error     ErrorResponse `json:"error"`
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Code    string `json:"code" example:"VALIDATION_FAILED"`
	Message string `json:"message" example:"Request validation failed"`
}

// EmptyResponse represents no content response (204)
type EmptyResponse struct{}

// SourceStatsData is the per-source rollup
type SourceStatsData struct {
	Source               string  `json:"source" example:"stripe"`
	Total                int64   `json:"total" example:"1200"`
	Success              int64   `json:"success" example:"1150"`
	Failed               int64   `json:"failed" example:"12"`
	Duplicate            int64   `json:"duplicate" example:"38"`
	Throttled            int64   `json:"throttled" example:"9"`
	Rejected             int64   `json:"rejected" example:"3"`
	InvalidSignatures    int64   `json:"invalid_signatures" example:"2"`
	AvgDurationMs        float64 `json:"avg_duration_ms" example:"41.5"`
	P50DurationMs        float64 `json:"p50_duration_ms" example:"35"`
	P95DurationMs        float64 `json:"p95_duration_ms" example:"120"`
	P99DurationMs        float64 `json:"p99_duration_ms" example:"310"`
}

// StatsData is the stats window response
type StatsData struct {
	WindowHours int               `json:"window_hours" example:"24"`
	GeneratedAt string            `json:"generated_at" example:"2026-03-01T12:00:00Z"`
	Sources     []SourceStatsData `json:"sources"`
}

// AlertData is one breached threshold
type AlertData struct {
	Name        string  `json:"name" example:"high_failure_rate"`
	Severity    string  `json:"severity" example:"critical"`
	Source      string  `json:"source" example:"hotmart"`
	Value       float64 `json:"value" example:"0.08"`
	Threshold   float64 `json:"threshold" example:"0.05"`
	Message     string  `json:"message" example:"hotmart failure rate 8.0% over 24h (16 of 200)"`
	TriggeredAt string  `json:"triggered_at" example:"2026-03-01T12:00:00Z"`
}

// AlertReportData is the alert evaluation response
type AlertReportData struct {
	Status string      `json:"status" example:"critical"`
	Stats  StatsData   `json:"stats"`
	Alerts []AlertData `json:"alerts"`
}

// WebhookEventData is one ledger row
type WebhookEventData struct {
	ID                   string `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	WebhookID            string `json:"webhook_id,omitempty" example:"evt_1Nq2"`
	ExternalID           string `json:"external_id" example:"evt_1Nq2"`
	RequestID            string `json:"request_id" example:"req_V1StGXR8Z5jdHi6B"`
	Source               string `json:"source" example:"stripe"`
	EventType            string `json:"event_type,omitempty" example:"invoice.paid"`
	Status               string `json:"status" example:"success"`
	ProcessingDurationMs int64  `json:"processing_duration_ms,omitempty" example:"38"`
	ErrorCode            string `json:"error_code,omitempty" example:"DUPLICATE_PAYLOAD"`
	PayloadHash          string `json:"payload_hash" example:"9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"`
	ReceivedAt           string `json:"received_at" example:"2026-03-01T12:00:00Z"`
}

// EventListData wraps a ledger listing
type EventListData struct {
	Events []WebhookEventData `json:"events"`
	Count  int                `json:"count" example:"1"`
}

// BucketData is one rate limit bucket
type BucketData struct {
	Source     string  `json:"source" example:"unknown"`
	BucketKey  string  `json:"bucket_key" example:"203.0.113.9"`
	Tokens     float64 `json:"tokens" example:"3.5"`
	Capacity   int     `json:"capacity" example:"10"`
	RefillRate float64 `json:"refill_rate" example:"0.5"`
	FillRatio  float64 `json:"fill_ratio" example:"0.35"`
	LastRefill string  `json:"last_refill" example:"2026-03-01T12:00:00Z"`
}

// BucketListData wraps a bucket listing
type BucketListData struct {
	Buckets []BucketData `json:"buckets"`
}

// MaintenanceReportData is the result of one cleanup pass
type MaintenanceReportData struct {
	StaleBuckets   int64  `json:"stale_buckets" example:"14"`
	PurgedEvents   int64  `json:"purged_events" example:"52011"`
	ArchivedEvents int    `json:"archived_events" example:"52011"`
	ArchiveKey     string `json:"archive_key,omitempty" example:"hookgate/webhook_events/2026/01/30/20260130T030000Z-1772334000.jsonl"`
	ExpiredCache   int64  `json:"expired_cache" example:"3"`
	Cutoff         string `json:"cutoff" example:"2026-01-30T03:00:00Z"`
}

var (
	errUnauthorized = response.New(ErrorResponse{Code: "UNAUTHORIZED", Message: "Invalid or missing operator token"}, "401", "Unauthorized")
	errForbidden    = response.New(ErrorResponse{Code: "FORBIDDEN", Message: "Access denied"}, "403", "Forbidden")
	errRateLimited  = response.New(ErrorResponse{Code: "RATE_LIMIT_EXCEEDED", Message: "Rate limit exceeded, please try again later"}, "429", "Too Many Requests")
	errInternal     = response.New(ErrorResponse{Code: "INTERNAL_ERROR", Message: "An unexpected error occurred"}, "500", "Internal Server Error")
	operatorAuth    = endpoint.WithSecurity([]map[string][]string{{"BearerAuth": {}}})
)

func NewSwagger() *swagno.Swagger {
	sw := swagno.New(swagno.Config{
		Title:       "Hookgate Webhook Admission API",
		Version:     "v1.0.0",
		Description: "Admission control for inbound CRM webhooks: per-source token buckets, signature and replay checks, idempotent processing, and the operator API over the webhook ledger",
		Host:        "localhost:3000",
		Path:        "/v1",
	})

	endpoints := []*endpoint.EndPoint{
		// POST /v1/webhooks/:source - Receive a webhook delivery
		endpoint.New(
			endpoint.POST,
			"/webhooks/{source}",
			endpoint.WithTags("Webhooks"),
			endpoint.WithSummary("Receive a webhook delivery"),
			endpoint.WithDescription("Runs a provider delivery through idempotency, replay, rate limit and signature checks, then applies it to the CRM. Duplicates are acknowledged with 200 so the provider stops retrying."),
			endpoint.WithConsume([]mime.MIME{mime.JSON}),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("source", parameter.Path, parameter.WithDescription("Provider name, e.g. stripe")),
				parameter.StrParam("X-Webhook-Id", parameter.Header, parameter.WithDescription("Provider delivery id, the idempotency key")),
				parameter.StrParam("X-Webhook-Timestamp", parameter.Header, parameter.WithDescription("Delivery time, RFC3339 or unix seconds")),
				parameter.StrParam("X-Webhook-Signature", parameter.Header, parameter.WithDescription("sha256=<hex> or t=<unix>,v1=<hex>")),
				parameter.StrParam("X-Webhook-Event", parameter.Header, parameter.WithDescription("Provider event type")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookResponse{}, "200", "Processed or already processed"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "BAD_REQUEST", Message: "Invalid request"}, "400", "Bad Request"),
				response.New(WebhookRejection{Outcome: "invalid_signature"}, "401", "Invalid signature or outside the replay window"),
				response.New(WebhookRejection{Outcome: "in_flight"}, "409", "Another delivery of this webhook is being processed"),
				response.New(WebhookRejection{Outcome: "throttled"}, "429", "Source bucket empty; honour Retry-After"),
				response.New(WebhookRejection{Outcome: "processing_failed"}, "500", "Processing failed; the provider should retry"),
			}),
		),

		// GET /v1/admin/webhooks/stats
		endpoint.New(
			endpoint.GET,
			"/admin/webhooks/stats",
			endpoint.WithTags("Admin"),
			endpoint.WithSummary("Per-source webhook stats"),
			endpoint.WithDescription("Counts by status, invalid signatures and processing duration percentiles over the window. Cached briefly."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.IntParam("window_hours", parameter.Query, parameter.WithDescription("Window in hours (1-720, default: 24)")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(StatsData{}, "200", "Stats retrieved successfully"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "window_hours must be between 1 and 720"}, "422", "Unprocessable Entity"),
				errUnauthorized,
				errRateLimited,
				errInternal,
			}),
			operatorAuth,
		),

		// GET /v1/admin/webhooks/alerts
		endpoint.New(
			endpoint.GET,
			"/admin/webhooks/alerts",
			endpoint.WithTags("Admin"),
			endpoint.WithSummary("Evaluate alert thresholds"),
			endpoint.WithDescription("Failure rate above 5% per source and more than 5 invalid signatures in 24h are critical; duplicate rate above 20% is a warning."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(AlertReportData{}, "200", "Alert report"),
			}),
			endpoint.WithErrors([]response.Response{errUnauthorized, errRateLimited, errInternal}),
			operatorAuth,
		),

		// GET /v1/admin/webhooks/events
		endpoint.New(
			endpoint.GET,
			"/admin/webhooks/events",
			endpoint.WithTags("Admin"),
			endpoint.WithSummary("List ledger rows"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("source", parameter.Query, parameter.WithDescription("Filter by source")),
				parameter.StrParam("status", parameter.Query, parameter.WithDescription("processing, success, failed or duplicate")),
				parameter.IntParam("since_hours", parameter.Query, parameter.WithDescription("Only rows received in the last N hours")),
				parameter.IntParam("limit", parameter.Query, parameter.WithDescription("1-500, default: 100")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EventListData{}, "200", "Ledger rows, newest first"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "VALIDATION_FAILED", Message: "Request validation failed"}, "422", "Unprocessable Entity"),
				errUnauthorized,
				errInternal,
			}),
			operatorAuth,
		),

		// GET /v1/admin/webhooks/events/:id
		endpoint.New(
			endpoint.GET,
			"/admin/webhooks/events/{id}",
			endpoint.WithTags("Admin"),
			endpoint.WithSummary("Get one ledger row"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("id", parameter.Path, parameter.WithDescription("Ledger row UUID")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(WebhookEventData{}, "200", "Ledger row"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "EVENT_NOT_FOUND", Message: "Webhook event not found"}, "404", "Not Found"),
				errUnauthorized,
			}),
			operatorAuth,
		),

		// GET /v1/admin/rate-limits
		endpoint.New(
			endpoint.GET,
			"/admin/rate-limits",
			endpoint.WithTags("Admin"),
			endpoint.WithSummary("List rate limit buckets"),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithParams(
				parameter.StrParam("source", parameter.Query, parameter.WithDescription("Only buckets of this source")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(BucketListData{}, "200", "Stored buckets"),
			}),
			endpoint.WithErrors([]response.Response{errUnauthorized, errInternal}),
			operatorAuth,
		),

		// DELETE /v1/admin/rate-limits/:source/:key
		endpoint.New(
			endpoint.DELETE,
			"/admin/rate-limits/{source}/{key}",
			endpoint.WithTags("Admin"),
			endpoint.WithSummary("Reset a bucket"),
			endpoint.WithDescription("Deletes the bucket; the next delivery recreates it at full capacity. Requires the operator role."),
			endpoint.WithParams(
				parameter.StrParam("source", parameter.Path, parameter.WithDescription("Bucket source")),
				parameter.StrParam("key", parameter.Path, parameter.WithDescription("Bucket key")),
			),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(EmptyResponse{}, "204", "Bucket reset"),
			}),
			endpoint.WithErrors([]response.Response{
				response.New(ErrorResponse{Code: "BUCKET_NOT_FOUND", Message: "Rate limit bucket not found"}, "404", "Not Found"),
				errUnauthorized,
				errForbidden,
			}),
			operatorAuth,
		),

		// POST /v1/admin/maintenance/cleanup
		endpoint.New(
			endpoint.POST,
			"/admin/maintenance/cleanup",
			endpoint.WithTags("Admin"),
			endpoint.WithSummary("Run cleanup now"),
			endpoint.WithDescription("Deletes buckets idle for 7 days, archives (when configured) and purges ledger rows older than 30 days, and expires cache entries. Requires the operator role."),
			endpoint.WithProduce([]mime.MIME{mime.JSON}),
			endpoint.WithSuccessfulReturns([]response.Response{
				response.New(MaintenanceReportData{}, "200", "Cleanup report"),
			}),
			endpoint.WithErrors([]response.Response{errUnauthorized, errForbidden, errInternal}),
			operatorAuth,
		),
	}

	sw.AddEndpoints(endpoints)

	return sw
}
