package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Database pings the primary database. A database that cannot answer is down even on
// timeout, since no request can be served without it.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if db == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return monitoring.ResultFromError(err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, orDefault(timeout, defaultDatabaseTimeout))
		defer cancel()

		result := monitoring.ResultFromError(sqlDB.PingContext(probeCtx), time.Since(start))
		if result.Status == monitoring.StatusDegraded {
			result.Status = monitoring.StatusDown
		}
		return result
	})
}

func orDefault(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
