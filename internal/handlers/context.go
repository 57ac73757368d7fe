package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

func currentUserID(c *gin.Context) string {
	return c.GetString(middleware.CtxUserIDKey)
}

func currentSessionID(c *gin.Context) string {
	return c.GetString(middleware.CtxSessionIDKey)
}

func sessionMetadata(c *gin.Context) auth.SessionMetadata {
	return auth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}
