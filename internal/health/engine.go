package health

import (
	"fmt"
	"time"
)

// Evaluate checks stats against thresholds. Failure and duplicate rates are
// judged per source, and the failure rate ignores throttled and rejected
// deliveries. Invalid signatures are counted across all sources since
// forged deliveries often arrive under made-up source names.
func Evaluate(stats Stats, t Thresholds, now time.Time) []Alert {
	var alerts []Alert

	for _, s := range stats.Sources {
		if rate := s.FailureRate(); exceeds(rate, t.FailureRate) {
			alerts = append(alerts, Alert{
				Name:        AlertHighFailureRate,
				Severity:    SeverityCritical,
				Source:      s.Source,
				Value:       rate,
				Threshold:   t.FailureRate,
				Message:     fmt.Sprintf("%s failure rate %.1f%% over %dh (%d of %d)", s.Source, rate*100, stats.WindowHours, s.ProcessingFailed(), s.Admitted()),
				TriggeredAt: now,
			})
		}
		if rate := s.DuplicateRate(); exceeds(rate, t.DuplicateRate) {
			alerts = append(alerts, Alert{
				Name:        AlertHighDuplicateRate,
				Severity:    SeverityWarning,
				Source:      s.Source,
				Value:       rate,
				Threshold:   t.DuplicateRate,
				Message:     fmt.Sprintf("%s duplicate rate %.1f%% over %dh", s.Source, rate*100, stats.WindowHours),
				TriggeredAt: now,
			})
		}
	}

	totals := stats.Totals()
	if totals.InvalidSignatures > t.InvalidSignatures {
		alerts = append(alerts, Alert{
			Name:        AlertInvalidSignatures,
			Severity:    SeverityCritical,
			Source:      totals.Source,
			Value:       float64(totals.InvalidSignatures),
			Threshold:   float64(t.InvalidSignatures),
			Message:     fmt.Sprintf("%d invalid signatures over %dh", totals.InvalidSignatures, stats.WindowHours),
			TriggeredAt: now,
		})
	}

	return alerts
}

func exceeds(value, threshold float64) bool {
	return value > threshold
}

// Status is the worst severity among alerts
func Status(alerts []Alert) Severity {
	status := SeverityInfo
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			return SeverityCritical
		case SeverityWarning:
			status = SeverityWarning
		}
	}
	return status
}
