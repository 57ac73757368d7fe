package middleware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santaserver/santaserver/internal/cache"
)

// RateStore counts hits for a key within a fixed window that starts at the first hit.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// MemoryRateStore provides process-local counters. Each key has its own lock so
// unrelated keys never contend.
type MemoryRateStore struct {
	counters  sync.Map
	clock     func() time.Time
	lastSweep atomic.Int64
}

type memoryCounter struct {
	mu        sync.Mutex
	count     int
	windowEnd time.Time
}

// MemoryRateStoreOption customises a MemoryRateStore.
type MemoryRateStoreOption func(*MemoryRateStore)

// WithRateClock overrides the time source.
func WithRateClock(clock func() time.Time) MemoryRateStoreOption {
	return func(s *MemoryRateStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemoryRateStore constructs an in-memory rate store.
func NewMemoryRateStore(opts ...MemoryRateStoreOption) *MemoryRateStore {
	store := &MemoryRateStore{clock: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	store.lastSweep.Store(store.clock().UnixNano())
	return store
}

// Increment implements RateStore.
func (s *MemoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.clock()
	s.maybeSweep(now)

	value, _ := s.counters.LoadOrStore(key, &memoryCounter{})
	counter := value.(*memoryCounter)

	counter.mu.Lock()
	defer counter.mu.Unlock()

	if counter.count == 0 || !now.Before(counter.windowEnd) {
		counter.count = 0
		counter.windowEnd = now.Add(window)
	}
	counter.count++
	return counter.count, counter.windowEnd.Sub(now), nil
}

// maybeSweep drops expired counters at most once a minute.
func (s *MemoryRateStore) maybeSweep(now time.Time) {
	last := s.lastSweep.Load()
	if now.UnixNano()-last < int64(time.Minute) {
		return
	}
	if !s.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	s.counters.Range(func(key, value any) bool {
		counter := value.(*memoryCounter)
		counter.mu.Lock()
		expired := !now.Before(counter.windowEnd)
		counter.mu.Unlock()
		if expired {
			s.counters.CompareAndDelete(key, value)
		}
		return true
	})
}

// StoreRateStore keeps counters in a shared cache.Store so limits hold across replicas.
type StoreRateStore struct {
	store cache.Store
}

// NewStoreRateStore wraps a Redis or database backed cache store. It returns nil when
// store is nil.
func NewStoreRateStore(store cache.Store) *StoreRateStore {
	if store == nil {
		return nil
	}
	return &StoreRateStore{store: store}
}

// Increment implements RateStore.
func (s *StoreRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
