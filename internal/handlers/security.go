package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/security"
	"github.com/santaserver/santaserver/pkg/response"
)

// SecurityHandler exposes the configuration posture report.
type SecurityHandler struct {
	auditor *security.Auditor
}

// NewSecurityHandler constructs a SecurityHandler.
func NewSecurityHandler(auditor *security.Auditor) (*SecurityHandler, error) {
	if auditor == nil {
		return nil, errors.New("security handler: auditor is required")
	}
	return &SecurityHandler{auditor: auditor}, nil
}

// Check GET /audit/security-check
func (h *SecurityHandler) Check(c *gin.Context) {
	response.JSON(c, http.StatusOK, h.auditor.Run(requestContext(c)))
}
