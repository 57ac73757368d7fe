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

const (
	defaultPerPage = 50
	maxPerPage     = 100
)

// UserHandler serves the administrative /users endpoints.
type UserHandler struct {
	svc *services.UserService
}

type createUserRequest struct {
	Username     string   `json:"username" validate:"required,min=3,max=100,username"`
	Email        string   `json:"email" validate:"required,email,max=255"`
	Password     string   `json:"password" validate:"omitempty,max=128"`
	UserType     string   `json:"user_type" validate:"omitempty,oneof=local sso scim"`
	ExternalID   string   `json:"external_id" validate:"omitempty,max=255"`
	ProviderName string   `json:"provider_name" validate:"omitempty,max=100"`
	FirstName    string   `json:"first_name" validate:"omitempty,max=100"`
	LastName     string   `json:"last_name" validate:"omitempty,max=100"`
	DisplayName  string   `json:"display_name" validate:"omitempty,max=200"`
	Department   string   `json:"department" validate:"omitempty,max=100"`
	Title        string   `json:"title" validate:"omitempty,max=100"`
	Phone        string   `json:"phone" validate:"omitempty,max=50"`
	Roles        []string `json:"roles" validate:"omitempty,dive,required"`
}

type updateUserRequest struct {
	Email       *string `json:"email" validate:"omitempty,email,max=255"`
	FirstName   *string `json:"first_name" validate:"omitempty,max=100"`
	LastName    *string `json:"last_name" validate:"omitempty,max=100"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=200"`
	Department  *string `json:"department" validate:"omitempty,max=100"`
	Title       *string `json:"title" validate:"omitempty,max=100"`
	Phone       *string `json:"phone" validate:"omitempty,max=50"`
	IsActive    *bool   `json:"is_active"`
}

type assignRolesRequest struct {
	Roles []string `json:"roles" validate:"required,dive,required"`
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(svc *services.UserService) (*UserHandler, error) {
	if svc == nil {
		return nil, errors.New("user handler: user service is required")
	}
	return &UserHandler{svc: svc}, nil
}

// List GET /users
func (h *UserHandler) List(c *gin.Context) {
	page := parseIntQuery(c, "page", 1)
	perPage := parseIntQuery(c, "per_page", defaultPerPage)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	users, total, err := h.svc.List(requestContext(c), services.ListUsersOptions{
		Page:    page,
		PerPage: perPage,
		Filters: services.UserFilters{
			Status:   statusFilter(c),
			UserType: models.UserType(strings.ToLower(strings.TrimSpace(c.Query("user_type")))),
			Search:   strings.TrimSpace(c.Query("search")),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, response.NewPage(users, total, page, perPage))
}

// Get GET /users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// Create POST /users
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	userType := models.UserType(body.UserType)
	if userType == "" {
		userType = models.UserTypeLocal
	}

	user, err := h.svc.Create(requestContext(c), services.CreateUserInput{
		Username:     strings.TrimSpace(body.Username),
		Email:        strings.TrimSpace(body.Email),
		Password:     body.Password,
		UserType:     userType,
		ExternalID:   strings.TrimSpace(body.ExternalID),
		ProviderName: strings.TrimSpace(body.ProviderName),
		FirstName:    body.FirstName,
		LastName:     body.LastName,
		DisplayName:  body.DisplayName,
		Department:   body.Department,
		Title:        body.Title,
		Phone:        body.Phone,
		Roles:        body.Roles,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, user)
}

// Update PUT /users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var body updateUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.svc.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		Email:       body.Email,
		FirstName:   body.FirstName,
		LastName:    body.LastName,
		DisplayName: body.DisplayName,
		Department:  body.Department,
		Title:       body.Title,
		Phone:       body.Phone,
		IsActive:    body.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// Delete DELETE /users/:id deactivates the account; users are never removed.
func (h *UserHandler) Delete(c *gin.Context) {
	user, err := h.svc.Deactivate(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"message": "User deactivated",
		"user":    user,
	})
}

// AssignRoles PUT /users/:id/roles
func (h *UserHandler) AssignRoles(c *gin.Context) {
	var body assignRolesRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.svc.AssignRoles(requestContext(c), c.Param("id"), body.Roles)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, user)
}

// statusFilter reads ?status= or the boolean ?is_active= form.
func statusFilter(c *gin.Context) string {
	if status := strings.ToLower(strings.TrimSpace(c.Query("status"))); status != "" {
		return status
	}
	switch strings.ToLower(strings.TrimSpace(c.Query("is_active"))) {
	case "false", "0":
		return services.UserStatusInactive
	case "all":
		return services.UserStatusAll
	default:
		return services.UserStatusActive
	}
}
