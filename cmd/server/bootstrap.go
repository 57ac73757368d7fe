package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/api"
	"github.com/santaserver/santaserver/internal/app"
	"github.com/santaserver/santaserver/internal/app/maintenance"
	"github.com/santaserver/santaserver/internal/cache"
	"github.com/santaserver/santaserver/internal/database"
	"github.com/santaserver/santaserver/internal/services"
	"github.com/santaserver/santaserver/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   *cache.RedisStore
	Deps    *api.Dependencies
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime opens storage, wires the services, seeds the administrator and
// starts background maintenance.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	success := false

	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	var err error
	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	var store cache.Store = dbStore
	if cfg.Cache.RedisEnabled() {
		stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig())
		if err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
		} else {
			store = stack.Redis
			log.Info("redis connected")
		}
	}

	stack.Deps, err = api.NewDependencies(stack.DB, cfg, api.Options{Cache: store})
	if err != nil {
		return nil, fmt.Errorf("initialise services: %w", err)
	}

	if err := ensureBootstrapAdmin(ctx, cfg, stack.Deps, log); err != nil {
		return nil, err
	}

	for _, check := range stack.Deps.Posture.Run(ctx).Failed() {
		log.Warn("security check not passing",
			zap.String("check", check.ID),
			zap.String("status", string(check.Status)),
			zap.String("message", check.Message),
			zap.String("remediation", check.Remediation),
		)
	}

	cleanerOpts := []maintenance.Option{maintenance.WithSchedule(cfg.Maintenance.SessionCleanupSchedule)}
	if stack.Redis == nil {
		cleanerOpts = append(cleanerOpts, maintenance.WithCachePurger(dbStore))
	}
	stack.Cleaner = maintenance.NewCleaner(stack.Deps.Sessions, cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, stack.Deps)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// ensureBootstrapAdmin seeds the configured administrator when a password is set. An
// existing account with the same username or email is left untouched.
func ensureBootstrapAdmin(ctx context.Context, cfg *app.Config, deps *api.Dependencies, log *zap.Logger) error {
	admin := cfg.Bootstrap.Admin
	if strings.TrimSpace(admin.Password) == "" {
		log.Info("bootstrap admin password not configured; skipping admin seed")
		return nil
	}

	if violations := deps.Policy.Validate(admin.Password); len(violations) > 0 {
		return fmt.Errorf("bootstrap admin password: %s", violations[0].Message)
	}
	hash, err := deps.Policy.Hash(admin.Password)
	if err != nil {
		return fmt.Errorf("hash bootstrap admin password: %w", err)
	}

	now := deps.Clock()
	user, created, err := database.EnsureBootstrapAdmin(ctx, deps.DB, database.BootstrapAdmin{
		Username:          admin.Username,
		Email:             admin.Email,
		PasswordHash:      hash,
		PasswordExpiresAt: deps.Policy.ExpiresAt(now),
		Now:               now,
	})
	if err != nil {
		return err
	}
	if !created {
		log.Debug("bootstrap admin already present", zap.String("username", user.Username))
		return nil
	}

	log.Info("bootstrap admin created", zap.String("username", user.Username))
	return deps.Audit.Log(ctx, services.AuditEntry{
		UserID:    user.ID,
		EventType: services.EventAdminBootstrapped,
		Success:   true,
		Details:   map[string]any{"username": user.Username},
	})
}

// Shutdown stops background jobs, runs a final cleanup and releases connections.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
		s.Cleaner = nil
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
		s.Redis = nil
	}

	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
		s.DB = nil
	}
	return errs
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	logger.WithModule("database").Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql db: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
