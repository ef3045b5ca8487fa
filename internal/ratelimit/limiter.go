package ratelimit

import (
	"context"
	"time"
)

// StaleAfter is how long a bucket may go untouched before the sweep deletes it
const StaleAfter = 7 * 24 * time.Hour

// Limiter is the admission entry point over a Store
type Limiter struct {
	store    Store
	policies PolicyResolver
	now      func() time.Time
}

// NewLimiter creates a limiter using the wall clock
func NewLimiter(store Store, policies PolicyResolver) *Limiter {
	return &Limiter{
		store:    store,
		policies: policies,
		now:      time.Now,
	}
}

// WithClock replaces the clock, used by tests and the CLI
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Admit checks one unit of traffic for (source, key) using the source's
// default policy when the bucket does not exist yet.
func (l *Limiter) Admit(ctx context.Context, source, key string) (Decision, error) {
	return l.AdmitWithPolicy(ctx, source, key, l.policies.PolicyFor(source))
}

// AdmitWithPolicy is Admit with caller-supplied creation defaults. The policy
// only applies when the bucket is created; existing buckets keep their own
// capacity and refill rate.
func (l *Limiter) AdmitWithPolicy(ctx context.Context, source, key string, policy Policy) (Decision, error) {
	if err := validateKey(source, key); err != nil {
		return Decision{}, err
	}
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}
	return l.store.Take(ctx, source, key, policy, l.now())
}

// CleanupStale deletes buckets untouched for StaleAfter. Safe to run while
// admissions are in flight: a deleted bucket is recreated full on next use.
func (l *Limiter) CleanupStale(ctx context.Context) (int64, error) {
	return l.store.DeleteStale(ctx, l.now().Add(-StaleAfter))
}

// Bucket returns the stored state of one bucket
func (l *Limiter) Bucket(ctx context.Context, source, key string) (*Bucket, error) {
	return l.store.Get(ctx, source, key)
}

// Buckets lists stored buckets, optionally filtered by source
func (l *Limiter) Buckets(ctx context.Context, source string) ([]Bucket, error) {
	return l.store.List(ctx, source)
}

// Reset deletes a bucket so it restarts at full capacity (admin operation)
func (l *Limiter) Reset(ctx context.Context, source, key string) error {
	if err := validateKey(source, key); err != nil {
		return err
	}
	return l.store.Delete(ctx, source, key)
}
