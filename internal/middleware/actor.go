package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/auditctx"
)

// RequestActor stores the caller's IP, user agent and request id on the request context
// so audit events written further down pick them up.
func RequestActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: c.GetString(CtxRequestIDKey),
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
