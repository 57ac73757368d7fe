package app

import (
	"time"

	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/middleware"
	"github.com/santaserver/santaserver/internal/services"
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig(clock func() time.Time) auth.JWTConfig {
	access := time.Duration(c.JWT.AccessTokenExpireMinutes) * time.Minute
	if access <= 0 {
		access = auth.DefaultAccessTokenTTL
	}

	refresh := time.Duration(c.JWT.RefreshTokenExpireDays) * 24 * time.Hour
	if refresh <= 0 {
		refresh = auth.DefaultRefreshTokenTTL
	}

	return auth.JWTConfig{
		Secret:          c.JWT.Secret,
		Issuer:          c.JWT.Issuer,
		AccessTokenTTL:  access,
		RefreshTokenTTL: refresh,
		Clock:           clock,
	}
}

// PasswordPolicy converts the password section into an auth.PasswordPolicy. Zero values
// fall back to the stock policy.
func (c AuthConfig) PasswordPolicy() auth.PasswordPolicy {
	policy := auth.DefaultPasswordPolicy()
	p := c.Password

	if p.MinLength > 0 {
		policy.MinLength = p.MinLength
	}
	if p.BcryptRounds > 0 {
		policy.Cost = p.BcryptRounds
	}
	if p.ExpiryDays > 0 {
		policy.ExpiryDays = p.ExpiryDays
	}
	policy.RequireUppercase = p.RequireUppercase
	policy.RequireLowercase = p.RequireLowercase
	policy.RequireDigit = p.RequireNumbers
	policy.RequireSymbol = p.RequireSymbols
	return policy
}

// LockoutConfig converts the lockout section into guard parameters.
func (c AuthConfig) LockoutConfig(clock func() time.Time) auth.LockoutConfig {
	threshold := c.Lockout.MaxAttempts
	if threshold <= 0 {
		threshold = auth.DefaultLockoutThreshold
	}

	duration := time.Duration(c.Lockout.DurationMinutes) * time.Minute
	if duration <= 0 {
		duration = auth.DefaultLockoutDuration
	}

	return auth.LockoutConfig{
		Threshold: threshold,
		Duration:  duration,
		Clock:     clock,
	}
}

// AuthServiceConfig converts the password section into AuthService options.
func (c AuthConfig) AuthServiceConfig(clock func() time.Time) services.AuthServiceConfig {
	return services.AuthServiceConfig{
		KeepCurrentSessionOnChange: c.Password.KeepCurrentSessionOnChange,
		Clock:                      clock,
	}
}

// RateLimitConfig converts the rate limit section into middleware windows.
func (c AuthConfig) RateLimitConfig() middleware.LoginRateLimitConfig {
	cfg := middleware.DefaultLoginRateLimitConfig()
	if w := c.RateLimit.LoginPerIP; w.Limit > 0 && w.Window > 0 {
		cfg.PerIP = middleware.WindowLimit{Limit: w.Limit, Window: w.Window}
	}
	if w := c.RateLimit.LoginPerAccount; w.Limit > 0 && w.Window > 0 {
		cfg.PerAccount = middleware.WindowLimit{Limit: w.Limit, Window: w.Window}
	}
	return cfg
}

// SessionServiceConfig returns the SessionService parameters. revocations may be nil.
func (c AuthConfig) SessionServiceConfig(clock func() time.Time, revocations *auth.RevocationCache) auth.SessionConfig {
	return auth.SessionConfig{
		Clock:       clock,
		Revocations: revocations,
	}
}
