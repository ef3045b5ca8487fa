package health

import (
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SourceStats aggregates ledger rows of one source over a window
type SourceStats struct {
	Source            string  `json:"source"`
	Total             int64   `json:"total"`
	Success           int64   `json:"success"`
	Failed            int64   `json:"failed"`
	Duplicate         int64   `json:"duplicate"`
	Throttled         int64   `json:"throttled"`
	Rejected          int64   `json:"rejected"`
	InvalidSignatures int64   `json:"invalid_signatures"`
	AvgDurationMs     float64 `json:"avg_duration_ms"`
	P50DurationMs     float64 `json:"p50_duration_ms"`
	P95DurationMs     float64 `json:"p95_duration_ms"`
	P99DurationMs     float64 `json:"p99_duration_ms"`
}

// Admitted counts deliveries that passed replay, rate limit and signature checks
func (s SourceStats) Admitted() int64 {
	return s.Total - s.Throttled - s.Rejected
}

// ProcessingFailed counts failed rows of admitted deliveries
func (s SourceStats) ProcessingFailed() int64 {
	return s.Failed - s.Throttled - s.Rejected
}

// FailureRate is processing failures over admitted deliveries, zero when
// nothing was admitted
func (s SourceStats) FailureRate() float64 {
	admitted := s.Admitted()
	if admitted <= 0 {
		return 0
	}
	return float64(s.ProcessingFailed()) / float64(admitted)
}

// DuplicateRate is duplicate/total, zero for an empty window
func (s SourceStats) DuplicateRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Duplicate) / float64(s.Total)
}

// Stats is the health rollup for a window
type Stats struct {
	WindowHours int           `json:"window_hours"`
	GeneratedAt time.Time     `json:"generated_at"`
	Sources     []SourceStats `json:"sources"`
}

// AllSources names the rollup across every source
const AllSources = "all"

// Totals sums counters across sources. Durations are not summed.
func (s Stats) Totals() SourceStats {
	t := SourceStats{Source: AllSources}
	for _, src := range s.Sources {
		t.Total += src.Total
		t.Success += src.Success
		t.Failed += src.Failed
		t.Duplicate += src.Duplicate
		t.Throttled += src.Throttled
		t.Rejected += src.Rejected
		t.InvalidSignatures += src.InvalidSignatures
	}
	return t
}

// Alert is one breached threshold
type Alert struct {
	Name        string    `json:"name"`
	Severity    Severity  `json:"severity"`
	Source      string    `json:"source"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	Message     string    `json:"message"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// Alert names
const (
	AlertHighFailureRate   = "high_failure_rate"
	AlertInvalidSignatures = "invalid_signatures"
	AlertHighDuplicateRate = "high_duplicate_rate"
)

// Thresholds are the alerting limits; a value must exceed its limit to alert
type Thresholds struct {
	FailureRate       float64 `json:"failure_rate" validate:"gte=0,lte=1"`
	InvalidSignatures int64   `json:"invalid_signatures" validate:"gte=0"`
	DuplicateRate     float64 `json:"duplicate_rate" validate:"gte=0,lte=1"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		FailureRate:       0.05,
		InvalidSignatures: 5,
		DuplicateRate:     0.20,
	}
}

// Report is the outcome of a health check
type Report struct {
	Status Severity `json:"status"`
	Stats  Stats    `json:"stats"`
	Alerts []Alert  `json:"alerts"`
}

// Critical reports whether any alert is critical
func (r Report) Critical() bool {
	return r.Status == SeverityCritical
}
