package storage

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many claims pass between scans for expired keys.
const sweepEvery = 1024

// MemoryIdempotencyStore is the in-process counterpart of RedisAdapter.
type MemoryIdempotencyStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	lease time.Duration
	now   func() time.Time
	keys  map[string]time.Time

	claims     int
	sweepEvery int
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &MemoryIdempotencyStore{
		ttl:        ttl,
		lease:      min(DefaultClaimLease, ttl),
		now:        time.Now,
		keys:       make(map[string]time.Time),
		sweepEvery: sweepEvery,
	}
}

func (s *MemoryIdempotencyStore) Claim(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.claims++
	if s.claims%s.sweepEvery == 0 {
		s.sweep(now)
	}

	if expires, ok := s.keys[key]; ok && now.Before(expires) {
		return false, nil
	}
	s.keys[key] = now.Add(s.lease)
	return true, nil
}

func (s *MemoryIdempotencyStore) Complete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[key] = s.now().Add(s.ttl)
	return nil
}

func (s *MemoryIdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.keys, key)
	return nil
}

func (s *MemoryIdempotencyStore) sweep(now time.Time) {
	for key, expires := range s.keys {
		if !now.Before(expires) {
			delete(s.keys, key)
		}
	}
}

func (s *MemoryIdempotencyStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}
