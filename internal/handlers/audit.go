package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/services"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/response"
)

// AuditHandler exposes the security audit trail.
type AuditHandler struct {
	svc *services.AuditService
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(svc *services.AuditService) (*AuditHandler, error) {
	if svc == nil {
		return nil, errors.New("audit handler: audit service is required")
	}
	return &AuditHandler{svc: svc}, nil
}

// List GET /audit/events
func (h *AuditHandler) List(c *gin.Context) {
	filters, err := auditFilters(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", defaultPerPage)
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}

	events, total, err := h.svc.List(requestContext(c), services.AuditListOptions{
		Page:    page,
		PerPage: perPage,
		Filters: filters,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, response.NewPage(events, total, page, perPage))
}

func auditFilters(c *gin.Context) (services.AuditFilters, error) {
	filters := services.AuditFilters{
		UserID:    strings.TrimSpace(c.Query("user_id")),
		EventType: strings.TrimSpace(c.Query("event_type")),
	}

	if raw := strings.TrimSpace(c.Query("success")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return filters, invalidQuery("success", "success must be true or false")
		}
		filters.Success = &value
	}

	for _, bound := range []struct {
		key  string
		dest **time.Time
	}{
		{"since", &filters.Since},
		{"until", &filters.Until},
	} {
		raw := strings.TrimSpace(c.Query(bound.key))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, invalidQuery(bound.key, bound.key+" must be an RFC 3339 timestamp")
		}
		*bound.dest = &ts
	}

	return filters, nil
}

func invalidQuery(field, message string) error {
	return apperrors.NewValidation("Invalid query parameter", apperrors.FieldError{Field: field, Message: message})
}
