package ratelimit

import (
	"errors"
	"math"
	"time"
)

var (
	// ErrInvalidKey is returned when source or bucket key is empty
	ErrInvalidKey = errors.New("ratelimit: source and bucket key are required")
	// ErrInvalidPolicy is returned when capacity or refill rate is not positive
	ErrInvalidPolicy = errors.New("ratelimit: capacity and refill rate must be positive")
)

// Policy holds the parameters used when a bucket is created lazily
type Policy struct {
	Capacity   int     `json:"capacity" toml:"capacity"`
	RefillRate float64 `json:"refill_rate" toml:"refill_rate"` // tokens per second
}

// Validate checks that the policy can build a usable bucket
func (p Policy) Validate() error {
	if p.Capacity <= 0 || p.RefillRate <= 0 || math.IsNaN(p.RefillRate) || math.IsInf(p.RefillRate, 0) {
		return ErrInvalidPolicy
	}
	return nil
}

// Bucket is the persisted token-bucket state for one (source, bucket_key)
type Bucket struct {
	Source     string    `json:"source"`
	Key        string    `json:"bucket_key"`
	Tokens     float64   `json:"tokens"`
	Capacity   int       `json:"capacity"`
	RefillRate float64   `json:"refill_rate"`
	LastRefill time.Time `json:"last_refill"`
	CreatedAt  time.Time `json:"created_at"`
}

// newBucket returns a full bucket for a first admission check
func newBucket(source, key string, p Policy, now time.Time) Bucket {
	return Bucket{
		Source:     source,
		Key:        key,
		Tokens:     float64(p.Capacity),
		Capacity:   p.Capacity,
		RefillRate: p.RefillRate,
		LastRefill: now,
		CreatedAt:  now,
	}
}

// Decision is the result of one admission check
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  float64       `json:"remaining"`
	Capacity   int           `json:"capacity"`
	RefillRate float64       `json:"refill_rate"`
	RetryAfter time.Duration `json:"retry_after"`
}

// take runs the refill-and-consume step on b in place. The caller must hold
// the exclusive lock for the bucket.
//
// The refill is always persisted, even when the check is rejected. Fractional
// tokens are kept; only the comparison against one whole token rounds.
func take(b *Bucket, now time.Time) Decision {
	// last_refill never moves backwards, so an older clock reading
	// that acquired the lock late refills nothing.
	if now.Before(b.LastRefill) {
		now = b.LastRefill
	}

	elapsed := now.Sub(b.LastRefill).Seconds()
	tokens := math.Min(float64(b.Capacity), b.Tokens+elapsed*b.RefillRate)
	if tokens < 0 {
		tokens = 0
	}

	b.LastRefill = now

	if tokens < 1 {
		b.Tokens = tokens
		return Decision{
			Allowed:    false,
			Remaining:  tokens,
			Capacity:   b.Capacity,
			RefillRate: b.RefillRate,
			RetryAfter: retryAfter(tokens, b.RefillRate),
		}
	}

	b.Tokens = tokens - 1
	return Decision{
		Allowed:    true,
		Remaining:  b.Tokens,
		Capacity:   b.Capacity,
		RefillRate: b.RefillRate,
	}
}

// retryAfter is the time until one whole token is available again
func retryAfter(tokens, rate float64) time.Duration {
	if rate <= 0 {
		return 0
	}
	seconds := (1 - tokens) / rate
	return time.Duration(math.Ceil(seconds*1000)) * time.Millisecond
}

// FillRatio is tokens over capacity, used by the status views
func (b Bucket) FillRatio() float64 {
	if b.Capacity <= 0 {
		return 0
	}
	return b.Tokens / float64(b.Capacity)
}

func validateKey(source, key string) error {
	if source == "" || key == "" {
		return ErrInvalidKey
	}
	return nil
}
