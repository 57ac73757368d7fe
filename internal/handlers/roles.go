package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/internal/services"
	"github.com/santaserver/santaserver/pkg/response"
)

// RoleHandler serves the /roles endpoints.
type RoleHandler struct {
	svc *services.RoleService
}

type createRoleRequest struct {
	Name        string               `json:"name" validate:"required,min=2,max=100,username"`
	DisplayName string               `json:"display_name" validate:"omitempty,max=200"`
	Description string               `json:"description" validate:"omitempty,max=1000"`
	Permissions models.PermissionMap `json:"permissions"`
}

// NewRoleHandler constructs a RoleHandler.
func NewRoleHandler(svc *services.RoleService) (*RoleHandler, error) {
	if svc == nil {
		return nil, errors.New("role handler: role service is required")
	}
	return &RoleHandler{svc: svc}, nil
}

// List GET /roles
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if roles == nil {
		roles = []models.Role{}
	}
	response.JSON(c, http.StatusOK, roles)
}

// Create POST /roles
func (h *RoleHandler) Create(c *gin.Context) {
	var body createRoleRequest
	if !bindAndValidate(c, &body) {
		return
	}

	role, err := h.svc.Create(requestContext(c), services.CreateRoleInput{
		Name:        body.Name,
		DisplayName: body.DisplayName,
		Description: body.Description,
		Permissions: body.Permissions,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, role)
}
