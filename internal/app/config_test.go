package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/santaserver/santaserver/internal/auth"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig("testdata")
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "/api/v2", cfg.Server.APIPrefix)
	require.Equal(t, []string{"https://santa.example.com", "https://admin.example.com"}, cfg.Server.CORS.AllowedOrigins)
	require.InDelta(t, 10, cfg.Server.Throttle.RequestsPerSecond, 0.001)
	require.Equal(t, 20, cfg.Server.Throttle.Burst)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 6543, cfg.Database.Postgres.Port)

	require.True(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, "redis.example.com:6380", cfg.Cache.Redis.Address)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.Equal(t, 2*time.Second, cfg.Cache.Redis.Timeout)

	require.Equal(t, "file-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 15, cfg.Auth.JWT.AccessTokenExpireMinutes)
	require.Equal(t, 3, cfg.Auth.JWT.RefreshTokenExpireDays)
	require.Equal(t, 12, cfg.Auth.Password.MinLength)
	require.False(t, cfg.Auth.Password.RequireSymbols)
	require.True(t, cfg.Auth.Password.RequireUppercase)
	require.Equal(t, 3, cfg.Auth.Lockout.MaxAttempts)
	require.Equal(t, 30, cfg.Auth.RateLimit.LoginPerIP.Limit)
	require.Equal(t, 2*time.Minute, cfg.Auth.RateLimit.LoginPerIP.Window)
	require.Equal(t, 10, cfg.Auth.RateLimit.LoginPerAccount.Limit)

	require.Equal(t, "root", cfg.Bootstrap.Admin.Username)
	require.Equal(t, "@every 30m", cfg.Maintenance.SessionCleanupSchedule)
	require.False(t, cfg.Monitoring.Prometheus.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	require.Equal(t, 5*time.Second, cfg.Cache.Redis.Timeout)
	require.Equal(t, 30, cfg.Auth.JWT.AccessTokenExpireMinutes)
	require.Equal(t, 7, cfg.Auth.JWT.RefreshTokenExpireDays)
	require.Equal(t, 5, cfg.Auth.Lockout.MaxAttempts)
	require.Equal(t, 15, cfg.Auth.Lockout.DurationMinutes)
	require.Equal(t, 12, cfg.Auth.Password.BcryptRounds)
	require.Equal(t, "admin", cfg.Bootstrap.Admin.Username)
	require.Empty(t, cfg.Bootstrap.Admin.Password)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SANTASERVER_SERVER_PORT", "7001")
	t.Setenv("SANTASERVER_AUTH_LOCKOUT_MAX_ATTEMPTS", "9")
	t.Setenv("JWT_SECRET_KEY", "legacy-secret")
	t.Setenv("MAX_LOGIN_ATTEMPTS", "4")
	t.Setenv("INITIAL_ADMIN_PASSWORD", "Bootstrap1!")
	t.Setenv("BACKEND_CORS_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7001, cfg.Server.Port)
	require.Equal(t, "legacy-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 9, cfg.Auth.Lockout.MaxAttempts, "prefixed name wins over the legacy one")
	require.Equal(t, "Bootstrap1!", cfg.Bootstrap.Admin.Password)
	require.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORS.AllowedOrigins)
	require.Equal(t, "redis://cache:6379/1", cfg.Cache.Redis.URL)
	require.True(t, cfg.Cache.RedisEnabled())
}

func TestAuthConfigConverters(t *testing.T) {
	cfg, err := LoadConfig("testdata")
	require.NoError(t, err)

	clock := func() time.Time { return time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC) }

	jwtCfg := cfg.Auth.JWTServiceConfig(clock)
	require.Equal(t, "file-secret", jwtCfg.Secret)
	require.Equal(t, 15*time.Minute, jwtCfg.AccessTokenTTL)
	require.Equal(t, 72*time.Hour, jwtCfg.RefreshTokenTTL)
	require.NotNil(t, jwtCfg.Clock)

	policy := cfg.Auth.PasswordPolicy()
	require.Equal(t, 12, policy.MinLength)
	require.Equal(t, 10, policy.Cost)
	require.Equal(t, 30, policy.ExpiryDays)
	require.False(t, policy.RequireSymbol)
	require.True(t, policy.RequireDigit)

	lockout := cfg.Auth.LockoutConfig(clock)
	require.Equal(t, 3, lockout.Threshold)
	require.Equal(t, 5*time.Minute, lockout.Duration)

	limits := cfg.Auth.RateLimitConfig()
	require.Equal(t, 30, limits.PerIP.Limit)
	require.Equal(t, 2*time.Minute, limits.PerIP.Window)
	require.Equal(t, 10, limits.PerAccount.Limit)
	require.Equal(t, 5*time.Minute, limits.PerAccount.Window)
}

func TestAuthConfigConvertersFallBackToDefaults(t *testing.T) {
	var cfg AuthConfig

	jwtCfg := cfg.JWTServiceConfig(nil)
	require.Equal(t, auth.DefaultAccessTokenTTL, jwtCfg.AccessTokenTTL)
	require.Equal(t, auth.DefaultRefreshTokenTTL, jwtCfg.RefreshTokenTTL)

	lockout := cfg.LockoutConfig(nil)
	require.Equal(t, auth.DefaultLockoutThreshold, lockout.Threshold)
	require.Equal(t, auth.DefaultLockoutDuration, lockout.Duration)

	policy := cfg.PasswordPolicy()
	require.Equal(t, 8, policy.MinLength)
	require.Equal(t, 12, policy.Cost)
}

func TestDatabaseConnectionConfig(t *testing.T) {
	t.Run("host based", func(t *testing.T) {
		cfg := DatabaseConfig{Driver: "postgres", Postgres: DBAuthConfig{Host: "db", Port: 5433, Database: "santa", Username: "u", Password: "p"}}
		conn := cfg.ConnectionConfig()
		require.Equal(t, "postgres", conn.Driver)
		require.Equal(t, "db", conn.Host)
		require.Equal(t, 5433, conn.Port)
		require.Equal(t, "santa", conn.Name)
	})

	t.Run("postgres url", func(t *testing.T) {
		conn := DatabaseConfig{Driver: "sqlite", DSN: "postgresql://u:p@db:5432/santa"}.ConnectionConfig()
		require.Equal(t, "postgres", conn.Driver)
		require.Equal(t, "postgresql://u:p@db:5432/santa", conn.DSN)
	})

	t.Run("mysql url", func(t *testing.T) {
		conn := DatabaseConfig{DSN: "mysql://u:p@db:3307/santa?tls=true"}.ConnectionConfig()
		require.Equal(t, "mysql", conn.Driver)
		require.Empty(t, conn.DSN)
		require.Equal(t, "db", conn.Host)
		require.Equal(t, 3307, conn.Port)
		require.Equal(t, "santa", conn.Name)
		require.Equal(t, "u", conn.User)
		require.Equal(t, "p", conn.Password)
		require.Equal(t, "true", conn.Options["tls"])
	})

	t.Run("sqlite url", func(t *testing.T) {
		conn := DatabaseConfig{DSN: "sqlite:///./santa.db"}.ConnectionConfig()
		require.Equal(t, "sqlite", conn.Driver)
		require.Equal(t, "./santa.db", conn.Path)
		require.Empty(t, conn.DSN)
	})
}

func TestCacheRedisClientConfig(t *testing.T) {
	cfg := CacheConfig{Redis: RedisCacheConfig{Address: " redis:6379 ", DB: 3, Timeout: time.Second}}
	redisCfg := cfg.RedisClientConfig()
	require.Equal(t, "redis:6379", redisCfg.Address)
	require.Equal(t, 3, redisCfg.DB)
	require.False(t, cfg.RedisEnabled())
}
