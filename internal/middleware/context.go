package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/auth"
)

// Gin context keys populated by the middleware chain.
const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxUsernameKey  = "username"
	CtxSessionIDKey = "sessionID"
	CtxRequestIDKey = "requestID"
)

// ClaimsFromContext returns the verified access token claims, if any.
func ClaimsFromContext(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(CtxClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok && claims != nil
}
