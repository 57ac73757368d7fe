package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. SANTASERVER_SERVER_PORT.
const EnvPrefix = "SANTASERVER"

// Config represents the runtime configuration for SantaServer.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Bootstrap   BootstrapConfig   `mapstructure:"bootstrap"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port      int            `mapstructure:"port"`
	LogLevel  string         `mapstructure:"log_level"`
	APIPrefix string         `mapstructure:"api_prefix"`
	CORS      CORSConfig     `mapstructure:"cors"`
	Throttle  ThrottleConfig `mapstructure:"throttle"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// ThrottleConfig sets the per-IP request token bucket. Zero disables it.
type ThrottleConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	LogLevel string       `mapstructure:"log_level"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Address  string        `mapstructure:"address"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TLS      bool          `mapstructure:"tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT       JWTSettings       `mapstructure:"jwt"`
	Password  PasswordSettings  `mapstructure:"password"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

// JWTSettings configures token signing and lifetimes.
type JWTSettings struct {
	Secret                   string `mapstructure:"secret"`
	Issuer                   string `mapstructure:"issuer"`
	AccessTokenExpireMinutes int    `mapstructure:"access_token_expire_minutes"`
	RefreshTokenExpireDays   int    `mapstructure:"refresh_token_expire_days"`
}

// PasswordSettings configures the password policy.
type PasswordSettings struct {
	MinLength                  int  `mapstructure:"min_length"`
	RequireUppercase           bool `mapstructure:"require_uppercase"`
	RequireLowercase           bool `mapstructure:"require_lowercase"`
	RequireNumbers             bool `mapstructure:"require_numbers"`
	RequireSymbols             bool `mapstructure:"require_symbols"`
	BcryptRounds               int  `mapstructure:"bcrypt_rounds"`
	ExpiryDays                 int  `mapstructure:"expiry_days"`
	KeepCurrentSessionOnChange bool `mapstructure:"keep_current_session_on_change"`
}

// LockoutSettings configures the account lockout guard.
type LockoutSettings struct {
	MaxAttempts     int `mapstructure:"max_attempts"`
	DurationMinutes int `mapstructure:"duration_minutes"`
}

// RateLimitSettings configures the login rate limiter windows.
type RateLimitSettings struct {
	LoginPerIP      WindowSettings `mapstructure:"login_per_ip"`
	LoginPerAccount WindowSettings `mapstructure:"login_per_account"`
}

// WindowSettings is a counted window.
type WindowSettings struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// BootstrapConfig describes the administrator seeded on first start.
type BootstrapConfig struct {
	Admin BootstrapAdminConfig `mapstructure:"admin"`
}

// BootstrapAdminConfig holds the initial administrator credentials. The account is only
// created when a password is set.
type BootstrapAdminConfig struct {
	Username string `mapstructure:"username"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// MaintenanceConfig schedules background cleanup.
type MaintenanceConfig struct {
	SessionCleanupSchedule string `mapstructure:"session_cleanup_schedule"`
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// legacyEnv maps configuration keys to the environment names used by earlier
// deployments. The prefixed names still take precedence.
var legacyEnv = map[string]string{
	"auth.jwt.secret":                      "JWT_SECRET_KEY",
	"auth.jwt.access_token_expire_minutes": "JWT_ACCESS_TOKEN_EXPIRE_MINUTES",
	"auth.jwt.refresh_token_expire_days":   "JWT_REFRESH_TOKEN_EXPIRE_DAYS",
	"auth.password.bcrypt_rounds":          "BCRYPT_ROUNDS",
	"auth.password.min_length":             "PASSWORD_MIN_LENGTH",
	"auth.password.require_uppercase":      "PASSWORD_REQUIRE_UPPERCASE",
	"auth.password.require_lowercase":      "PASSWORD_REQUIRE_LOWERCASE",
	"auth.password.require_numbers":        "PASSWORD_REQUIRE_NUMBERS",
	"auth.password.require_symbols":        "PASSWORD_REQUIRE_SYMBOLS",
	"auth.password.expiry_days":            "PASSWORD_EXPIRY_DAYS",
	"auth.lockout.max_attempts":            "MAX_LOGIN_ATTEMPTS",
	"auth.lockout.duration_minutes":        "LOCKOUT_DURATION_MINUTES",
	"bootstrap.admin.username":             "INITIAL_ADMIN_USERNAME",
	"bootstrap.admin.password":             "INITIAL_ADMIN_PASSWORD",
	"bootstrap.admin.email":                "INITIAL_ADMIN_EMAIL",
	"database.dsn":                         "DATABASE_URL",
	"cache.redis.url":                      "REDIS_URL",
	"server.cors.allowed_origins":          "BACKEND_CORS_ORIGINS",
}

// LoadConfig reads config.yaml from ./config and the given paths, then applies a .env
// file and environment overrides on top of the defaults.
func LoadConfig(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, legacy); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.api_prefix", "/api/v1")
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("server.throttle.requests_per_second", 50)
	v.SetDefault("server.throttle.burst", 100)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/santaserver.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.url", "")
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "santaserver")
	v.SetDefault("auth.jwt.access_token_expire_minutes", 30)
	v.SetDefault("auth.jwt.refresh_token_expire_days", 7)

	v.SetDefault("auth.password.min_length", 8)
	v.SetDefault("auth.password.require_uppercase", true)
	v.SetDefault("auth.password.require_lowercase", true)
	v.SetDefault("auth.password.require_numbers", true)
	v.SetDefault("auth.password.require_symbols", true)
	v.SetDefault("auth.password.bcrypt_rounds", 12)
	v.SetDefault("auth.password.expiry_days", 90)
	v.SetDefault("auth.password.keep_current_session_on_change", false)

	v.SetDefault("auth.lockout.max_attempts", 5)
	v.SetDefault("auth.lockout.duration_minutes", 15)

	v.SetDefault("auth.rate_limit.login_per_ip.limit", 20)
	v.SetDefault("auth.rate_limit.login_per_ip.window", "1m")
	v.SetDefault("auth.rate_limit.login_per_account.limit", 10)
	v.SetDefault("auth.rate_limit.login_per_account.window", "5m")

	v.SetDefault("bootstrap.admin.username", "admin")
	v.SetDefault("bootstrap.admin.email", "admin@santaserver.local")
	v.SetDefault("bootstrap.admin.password", "")

	v.SetDefault("maintenance.session_cleanup_schedule", "@hourly")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

func (c DatabaseConfig) hostAuth() DBAuthConfig {
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres", "postgresql":
		return c.Postgres
	case "mysql", "mariadb":
		return c.MySQL
	default:
		return DBAuthConfig{}
	}
}
