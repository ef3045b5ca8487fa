package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/hookgate/internal/domain"
)

type bucketID struct {
	source string
	key    string
}

// memoryBucket pairs a bucket with the mutex serializing its checks
type memoryBucket struct {
	mu     sync.Mutex
	bucket Bucket
}

// MemoryStore keeps buckets in process with one mutex per key.
// The map lock is only held to find or create an entry, never while a
// bucket is being evaluated.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[bucketID]*memoryBucket
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[bucketID]*memoryBucket),
	}
}

func (s *MemoryStore) entry(source, key string, policy Policy, now time.Time) *memoryBucket {
	id := bucketID{source: source, key: key}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.buckets[id]
	if !ok {
		e = &memoryBucket{bucket: newBucket(source, key, policy, now)}
		s.buckets[id] = e
	}
	return e
}

// Take refills and draws one token from the bucket, creating it full on
// first use. Calls on one bucket are serialized by its mutex.
func (s *MemoryStore) Take(_ context.Context, source, key string, policy Policy, now time.Time) (Decision, error) {
	e := s.entry(source, key, policy, now)

	e.mu.Lock()
	defer e.mu.Unlock()

	return take(&e.bucket, now), nil
}

// Get returns a copy of one bucket, or ErrBucketNotFound
func (s *MemoryStore) Get(_ context.Context, source, key string) (*Bucket, error) {
	s.mu.Lock()
	e, ok := s.buckets[bucketID{source: source, key: key}]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrBucketNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	b := e.bucket
	return &b, nil
}

// List returns buckets of source, or all buckets when source is empty,
// ordered by source and key
func (s *MemoryStore) List(_ context.Context, source string) ([]Bucket, error) {
	s.mu.Lock()
	entries := make([]*memoryBucket, 0, len(s.buckets))
	for id, e := range s.buckets {
		if source == "" || id.source == source {
			entries = append(entries, e)
		}
	}
	s.mu.Unlock()

	buckets := make([]Bucket, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		buckets = append(buckets, e.bucket)
		e.mu.Unlock()
	}

	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].Source != buckets[j].Source {
			return buckets[i].Source < buckets[j].Source
		}
		return buckets[i].Key < buckets[j].Key
	})
	return buckets, nil
}

// Delete removes one bucket so its next admission starts at full capacity
func (s *MemoryStore) Delete(_ context.Context, source, key string) error {
	id := bucketID{source: source, key: key}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[id]; !ok {
		return domain.ErrBucketNotFound
	}
	delete(s.buckets, id)
	return nil
}

// DeleteStale removes buckets last refilled before the cutoff
func (s *MemoryStore) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for id, e := range s.buckets {
		e.mu.Lock()
		stale := e.bucket.LastRefill.Before(before)
		e.mu.Unlock()

		if stale {
			delete(s.buckets, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len returns the number of tracked buckets
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
