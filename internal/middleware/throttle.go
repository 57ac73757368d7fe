package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/metrics"
	"github.com/santaserver/santaserver/pkg/response"
)

const (
	throttleIdleTTL       = 5 * time.Minute
	throttleSweepInterval = time.Minute
)

type throttleBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle applies a per-client-IP token bucket to every request. A non-positive rps
// disables it.
func Throttle(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}

	var (
		mu        sync.Mutex
		buckets   = make(map[string]*throttleBucket)
		lastSweep = time.Now()
	)

	limiterFor := func(ip string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()

		if now.Sub(lastSweep) > throttleSweepInterval {
			for key, b := range buckets {
				if now.Sub(b.lastSeen) > throttleIdleTTL {
					delete(buckets, key)
				}
			}
			lastSweep = now
		}

		b, ok := buckets[ip]
		if !ok {
			b = &throttleBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = b
		}
		b.lastSeen = now
		return b.limiter
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !limiterFor(ip, time.Now()).Allow() {
			metrics.RateLimited.WithLabelValues("throttle").Inc()
			c.Header("Retry-After", "1")
			response.Abort(c, apperrors.ErrRateLimit)
			return
		}
		c.Next()
	}
}
