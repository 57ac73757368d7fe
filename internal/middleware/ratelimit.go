package middleware

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/logger"
	"github.com/santaserver/santaserver/pkg/metrics"
	"github.com/santaserver/santaserver/pkg/response"
)

// WindowLimit allows Limit hits per Window. A non-positive Limit disables the window.
type WindowLimit struct {
	Limit  int
	Window time.Duration
}

// LoginRateLimitConfig holds the two independent login windows.
type LoginRateLimitConfig struct {
	PerIP      WindowLimit
	PerAccount WindowLimit
}

// DefaultLoginRateLimitConfig returns 20 attempts per minute per IP and 10 per five
// minutes per account.
func DefaultLoginRateLimitConfig() LoginRateLimitConfig {
	return LoginRateLimitConfig{
		PerIP:      WindowLimit{Limit: 20, Window: time.Minute},
		PerAccount: WindowLimit{Limit: 10, Window: 5 * time.Minute},
	}
}

type rateCheck struct {
	scope string
	key   string
	limit WindowLimit
}

// LoginRateLimit counts login attempts per client IP and per submitted username. When
// either window is exhausted the request is rejected with 429 and Retry-After. Store
// failures let the request through; the lockout guard still applies.
func LoginRateLimit(store RateStore, cfg LoginRateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			c.Next()
			return
		}

		checks := make([]rateCheck, 0, 2)
		if cfg.PerIP.Limit > 0 {
			checks = append(checks, rateCheck{scope: "login_ip", key: "login:ip:" + c.ClientIP(), limit: cfg.PerIP})
		}
		if cfg.PerAccount.Limit > 0 {
			if username := peekLoginUsername(c); username != "" {
				checks = append(checks, rateCheck{scope: "login_account", key: "login:user:" + username, limit: cfg.PerAccount})
			}
		}

		for _, check := range checks {
			count, ttl, err := store.Increment(c.Request.Context(), check.key, check.limit.Window)
			if err != nil {
				logger.WithModule("ratelimit").Warn("rate limit store unavailable",
					zap.String("scope", check.scope),
					zap.Error(err))
				continue
			}
			if count > check.limit.Limit {
				metrics.RateLimited.WithLabelValues(check.scope).Inc()
				c.Header("Retry-After", retryAfterSeconds(ttl, check.limit.Window))
				response.Abort(c, apperrors.ErrRateLimit.WithMessage("Too many login attempts. Please try again later."))
				return
			}
		}

		c.Next()
	}
}

// peekLoginUsername reads the username from a JSON body. The body is cached on the
// context so handlers binding with ShouldBindBodyWith see it unchanged. The key is the
// identifier as submitted, so a username and its email address count separately; the
// account lockout covers both.
func peekLoginUsername(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}

	var payload struct {
		Username string `json:"username"`
	}
	if err := c.ShouldBindBodyWith(&payload, binding.JSON); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(payload.Username))
}

func retryAfterSeconds(ttl, window time.Duration) string {
	if ttl <= 0 {
		ttl = window
	}
	seconds := int(math.Ceil(ttl.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}
