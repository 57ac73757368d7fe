package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/santaserver/santaserver/internal/auditctx"
	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/models"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/logger"
	"github.com/santaserver/santaserver/pkg/response"
)

// TokenVerifier validates an access token against its session record.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, token string) (*auth.Claims, *models.Session, error)
}

// Auth requires a bearer access token whose session is live. Every rejection is a 401.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		claims, session, err := verifier.VerifyAccessToken(c.Request.Context(), token)
		if err != nil {
			if !isSessionRejection(err) {
				logger.WithModule("http").Warn("access token verification failed", zap.Error(err))
			}
			c.Header("WWW-Authenticate", `Bearer error="invalid_token"`)
			response.Abort(c, apperrors.ErrTokenInvalid)
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.Subject)
		c.Set(CtxUsernameKey, claims.Username)
		c.Set(CtxSessionIDKey, session.ID)
		c.Request = c.Request.WithContext(auditctx.WithSubject(c.Request.Context(), claims.Subject, claims.Username))

		c.Next()
	}
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(authz[7:])
	return token, token != ""
}

func isSessionRejection(err error) bool {
	return errors.Is(err, auth.ErrSessionNotFound) ||
		errors.Is(err, auth.ErrSessionRevoked) ||
		errors.Is(err, auth.ErrSessionExpired) ||
		errors.Is(err, auth.ErrSessionInvalidToken)
}
