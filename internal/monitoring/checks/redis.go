package checks

import (
	"context"
	"time"

	"github.com/santaserver/santaserver/internal/monitoring"
)

const defaultRedisTimeout = 2 * time.Second

// Pinger is implemented by cache backends with a remote connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis probes the shared cache. Session revocation is still enforced by the database,
// so an unreachable cache is reported as degraded rather than down. A nil client means
// the cache is not configured.
func Redis(client Pinger, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("redis", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if client == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "redis disabled"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, orDefault(timeout, defaultRedisTimeout))
		defer cancel()

		result := monitoring.ResultFromError(client.Ping(probeCtx), time.Since(start))
		if result.Status == monitoring.StatusDown {
			result.Status = monitoring.StatusDegraded
		}
		return result
	})
}
