package domain

// Outcome is the result of running one delivery through the admission gate.
// Every expected rejection is an Outcome, never an error.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeDuplicatePayload Outcome = "duplicate_payload"
	OutcomeInFlight         Outcome = "in_flight"
	OutcomeReplayRejected   Outcome = "replay_rejected"
	OutcomeThrottled        Outcome = "throttled"
	OutcomeInvalidSignature Outcome = "invalid_signature"
	OutcomeProcessingFailed Outcome = "processing_failed"
)

// Acknowledged reports whether the provider should be told the delivery succeeded
func (o Outcome) Acknowledged() bool {
	switch o {
	case OutcomeProcessed, OutcomeDuplicate, OutcomeDuplicatePayload:
		return true
	}
	return false
}

// Retryable reports whether the provider is expected to deliver again
func (o Outcome) Retryable() bool {
	switch o {
	case OutcomeThrottled, OutcomeInFlight, OutcomeProcessingFailed:
		return true
	}
	return false
}

// IsSecurityEvent reports whether the outcome must be logged as a security event
func (o Outcome) IsSecurityEvent() bool {
	return o == OutcomeReplayRejected || o == OutcomeInvalidSignature
}

// AppError maps a rejecting outcome to its AppError. Acknowledged outcomes return nil.
func (o Outcome) AppError() *AppError {
	switch o {
	case OutcomeThrottled:
		return ErrThrottled
	case OutcomeInFlight:
		return ErrInFlight
	case OutcomeReplayRejected:
		return ErrReplayRejected
	case OutcomeInvalidSignature:
		return ErrInvalidSignature
	case OutcomeProcessingFailed:
		return ErrProcessingFailed
	}
	return nil
}

// LedgerStatus is the status written to the audit row for an outcome
func (o Outcome) LedgerStatus() WebhookStatus {
	switch o {
	case OutcomeProcessed:
		return StatusSuccess
	case OutcomeDuplicate, OutcomeDuplicatePayload, OutcomeInFlight:
		return StatusDuplicate
	}
	return StatusFailed
}
