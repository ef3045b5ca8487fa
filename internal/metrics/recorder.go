package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

const namespace = "hookgate"

// Recorder exports admission and HTTP metrics to Prometheus
type Recorder struct {
	admissions   *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	processing   *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewRecorder registers the collectors on reg
func NewRecorder(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admissions_total",
				Help:      "Rate limit decisions by source and result",
			},
			[]string{"source", "result"},
		),
		outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhook_outcomes_total",
				Help:      "Webhook deliveries by source and gate outcome",
			},
			[]string{"source", "outcome"},
		),
		processing: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "processing_duration_seconds",
				Help:      "Business effect latency by source",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
}

func (r *Recorder) ObserveAdmission(source string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "throttled"
	}
	r.admissions.WithLabelValues(source, result).Inc()
}

func (r *Recorder) ObserveOutcome(source string, outcome domain.Outcome) {
	r.outcomes.WithLabelValues(source, string(outcome)).Inc()
}

func (r *Recorder) ObserveProcessing(source string, d time.Duration) {
	r.processing.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveHTTP records one served request. route is the matched route
// pattern so label cardinality stays bounded.
func (r *Recorder) ObserveHTTP(route, method string, status int, d time.Duration) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
