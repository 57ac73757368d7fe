package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotInitialised is returned by methods called on a nil store.
var ErrNotInitialised = errors.New("cache: store not initialised")

// Store is the shared key/value contract used for rate counters and revocation markers.
type Store interface {
	// IncrementWithTTL increments key and returns the new count together with the time
	// left in the window. The window starts with the first increment.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
