package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/santaserver/santaserver/internal/cache"
)

const revokedJTIPrefix = "revoked:jti:"

// RevocationCache marks revoked token identifiers in a shared cache until the token's own
// expiry. A hit rejects a token early; a miss always falls through to the database.
type RevocationCache struct {
	store cache.Store
	now   func() time.Time
}

// NewRevocationCache wraps store. It returns nil when store is nil so callers can pass the
// result straight into SessionConfig.
func NewRevocationCache(store cache.Store, clock func() time.Time) *RevocationCache {
	if store == nil {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &RevocationCache{store: store, now: clock}
}

// MarkRevoked records jti as revoked until expiresAt. Already expired tokens are skipped.
func (c *RevocationCache) MarkRevoked(ctx context.Context, jti string, expiresAt time.Time) error {
	if c == nil {
		return nil
	}
	jti = strings.TrimSpace(jti)
	if jti == "" {
		return errors.New("revocation cache: jti is required")
	}
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	return c.store.Set(ctx, revokedJTIPrefix+jti, []byte("1"), ttl)
}

// IsRevoked reports whether jti carries a revocation marker.
func (c *RevocationCache) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if c == nil {
		return false, nil
	}
	_, ok, err := c.store.Get(ctx, revokedJTIPrefix+strings.TrimSpace(jti))
	if err != nil {
		return false, err
	}
	return ok, nil
}
