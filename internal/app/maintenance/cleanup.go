package maintenance

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/santaserver/santaserver/pkg/logger"
)

const defaultSessionSpec = "@hourly"

// SessionCleaner deletes sessions whose tokens can no longer be presented.
type SessionCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// CachePurger drops expired cache rows. Redis expires keys itself, so only the
// database-backed store needs one.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Cleaner runs the periodic session and cache cleanup.
type Cleaner struct {
	sessions SessionCleaner
	cache    CachePurger
	cron     *cron.Cron
	log      *zap.Logger
	schedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithSchedule overrides the cron specification for the cleanup job.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithCachePurger also purges expired cache rows on each run.
func WithCachePurger(purger CachePurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = purger
	}
}

// NewCleaner constructs a Cleaner. A nil session cleaner leaves only the cache job.
func NewCleaner(sessions SessionCleaner, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		sessions: sessions,
		schedule: defaultSessionSpec,
		log:      logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return cleaner
}

// Start registers the cleanup job and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.sessions == nil && c.cache == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("scheduled cleanup failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return c.cron.Stop()
}

// RunOnce executes every cleanup routine and joins their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.sessions != nil {
		removed, err := c.sessions.CleanupExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Info("expired sessions removed", zap.Int64("count", removed))
		}
	}

	if c.cache != nil {
		removed, err := c.cache.PurgeExpired(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if removed > 0 {
			c.log.Debug("expired cache entries purged", zap.Int64("count", removed))
		}
	}

	return errs
}
