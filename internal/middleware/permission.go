package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/santaserver/santaserver/internal/permissions"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/logger"
	"github.com/santaserver/santaserver/pkg/metrics"
	"github.com/santaserver/santaserver/pkg/response"
)

// PermissionResolver answers whether a user holds an action on a resource.
type PermissionResolver interface {
	HasPermission(ctx context.Context, userID string, resource permissions.Resource, action permissions.Action) (bool, error)
}

// RequirePermission gates the route on resource:action. It must run after Auth.
func RequirePermission(resolver PermissionResolver, resource permissions.Resource, action permissions.Action) gin.HandlerFunc {
	label := string(resource) + ":" + string(action)
	return func(c *gin.Context) {
		userID := c.GetString(CtxUserIDKey)
		if userID == "" {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		allowed, err := resolver.HasPermission(c.Request.Context(), userID, resource, action)
		if err != nil {
			metrics.PermissionChecks.WithLabelValues(label, "error").Inc()
			logger.WithModule("http").Error("permission check failed",
				zap.String("permission", label),
				zap.String("user_id", userID),
				zap.Error(err))
			response.Abort(c, apperrors.ErrInternalServer.WithInternal(err))
			return
		}
		if !allowed {
			response.Abort(c, apperrors.ErrForbidden)
			return
		}
		c.Next()
	}
}
