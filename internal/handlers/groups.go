package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/internal/services"
	"github.com/santaserver/santaserver/pkg/response"
)

// GroupHandler serves the /groups endpoints.
type GroupHandler struct {
	svc *services.GroupService
}

type createGroupRequest struct {
	Name         string `json:"name" validate:"required,min=2,max=100"`
	DisplayName  string `json:"display_name" validate:"omitempty,max=200"`
	Description  string `json:"description" validate:"omitempty,max=1000"`
	SourceType   string `json:"source_type" validate:"omitempty,oneof=local sso scim"`
	ExternalID   string `json:"external_id" validate:"omitempty,max=255"`
	ProviderName string `json:"provider_name" validate:"omitempty,max=100"`
}

type addMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type assignGroupRoleRequest struct {
	Role string `json:"role" validate:"required"`
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(svc *services.GroupService) (*GroupHandler, error) {
	if svc == nil {
		return nil, errors.New("group handler: group service is required")
	}
	return &GroupHandler{svc: svc}, nil
}

// List GET /groups
func (h *GroupHandler) List(c *gin.Context) {
	groups, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if groups == nil {
		groups = []services.GroupView{}
	}
	response.JSON(c, http.StatusOK, groups)
}

// Create POST /groups
func (h *GroupHandler) Create(c *gin.Context) {
	var body createGroupRequest
	if !bindAndValidate(c, &body) {
		return
	}

	group, err := h.svc.Create(requestContext(c), services.CreateGroupInput{
		Name:         strings.TrimSpace(body.Name),
		DisplayName:  body.DisplayName,
		Description:  body.Description,
		SourceType:   models.GroupSource(body.SourceType),
		ExternalID:   strings.TrimSpace(body.ExternalID),
		ProviderName: strings.TrimSpace(body.ProviderName),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, group)
}

// AddMember POST /groups/:id/members
func (h *GroupHandler) AddMember(c *gin.Context) {
	var body addMemberRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if err := h.svc.AddMember(requestContext(c), c.Param("id"), body.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Member added")
}

// AssignRole POST /groups/:id/roles
func (h *GroupHandler) AssignRole(c *gin.Context) {
	var body assignGroupRoleRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if err := h.svc.AssignRole(requestContext(c), c.Param("id"), body.Role); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Role assigned")
}
