package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/santaserver/santaserver/internal/auth"
	"github.com/santaserver/santaserver/internal/middleware"
	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/internal/services"
	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/response"
)

const tokenTypeBearer = "bearer"

// AuthHandler serves the /auth endpoints.
type AuthHandler struct {
	svc *services.AuthService
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(svc *services.AuthService) (*AuthHandler, error) {
	if svc == nil {
		return nil, errors.New("auth handler: auth service is required")
	}
	return &AuthHandler{svc: svc}, nil
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

type updateProfileRequest struct {
	FirstName   *string `json:"first_name" validate:"omitempty,max=100"`
	LastName    *string `json:"last_name" validate:"omitempty,max=100"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=200"`
	Department  *string `json:"department" validate:"omitempty,max=100"`
	Title       *string `json:"title" validate:"omitempty,max=100"`
	Phone       *string `json:"phone" validate:"omitempty,max=50"`
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int          `json:"expires_in"`
	User         *models.User `json:"user,omitempty"`
}

type profileResponse struct {
	*models.User
	Roles           []string             `json:"roles"`
	Permissions     models.PermissionMap `json:"permissions"`
	PasswordExpired bool                 `json:"password_expired"`
}

type verifyResponse struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	UserType  string    `json:"user_type"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionResponse struct {
	ID               string     `json:"id"`
	IPAddress        string     `json:"ip_address"`
	UserAgent        string     `json:"user_agent"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       time.Time  `json:"last_used_at"`
	AccessExpiresAt  time.Time  `json:"access_expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	Current          bool       `json:"current"`
}

// Login POST /auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if !bindAndValidate(c, &body) {
		return
	}

	meta := sessionMetadata(c)
	result, err := h.svc.Login(requestContext(c), services.LoginInput{
		Identifier: strings.TrimSpace(body.Username),
		Password:   body.Password,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := h.tokens(result.Tokens)
	resp.User = result.User
	response.JSON(c, http.StatusOK, resp)
}

// Refresh POST /auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var body refreshRequest
	if !bindAndValidate(c, &body) {
		return
	}

	tokens, err := h.svc.Refresh(requestContext(c), body.RefreshToken, sessionMetadata(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, h.tokens(tokens))
}

// Logout POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	token, ok := middleware.BearerToken(c)
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}
	if err := h.svc.Logout(requestContext(c), token); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Successfully logged out")
}

// LogoutAll POST /auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	count, err := h.svc.LogoutAll(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"message":          "Successfully logged out from all sessions",
		"sessions_revoked": count,
	})
}

// Profile GET /auth/profile
func (h *AuthHandler) Profile(c *gin.Context) {
	profile, err := h.svc.Profile(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, toProfileResponse(profile))
}

// UpdateProfile PUT /auth/profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var body updateProfileRequest
	if !bindAndValidate(c, &body) {
		return
	}

	profile, err := h.svc.UpdateProfile(requestContext(c), currentUserID(c), services.UpdateProfileInput{
		FirstName:   body.FirstName,
		LastName:    body.LastName,
		DisplayName: body.DisplayName,
		Department:  body.Department,
		Title:       body.Title,
		Phone:       body.Phone,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, toProfileResponse(profile))
}

// ChangePassword POST /auth/change-password
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var body changePasswordRequest
	if !bindAndValidate(c, &body) {
		return
	}

	err := h.svc.ChangePassword(requestContext(c), services.ChangePasswordInput{
		UserID:          currentUserID(c),
		SessionID:       currentSessionID(c),
		CurrentPassword: body.CurrentPassword,
		NewPassword:     body.NewPassword,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Password changed successfully")
}

// Verify GET /auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	token, ok := middleware.BearerToken(c)
	if !ok {
		c.Header("WWW-Authenticate", "Bearer")
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	verified, user, err := h.svc.Verify(requestContext(c), token)
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := verifyResponse{
		Valid:     true,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		UserType:  string(user.UserType),
		SessionID: verified.Session.ID,
	}
	if exp := verified.Claims.ExpiresAt; exp != nil {
		resp.ExpiresAt = exp.UTC()
	}
	response.JSON(c, http.StatusOK, resp)
}

// ListSessions GET /auth/sessions
func (h *AuthHandler) ListSessions(c *gin.Context) {
	sessions, err := h.svc.ListSessions(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	current := currentSessionID(c)
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:               s.ID,
			IPAddress:        s.IPAddress,
			UserAgent:        s.UserAgent,
			CreatedAt:        s.CreatedAt,
			LastUsedAt:       s.LastUsedAt,
			AccessExpiresAt:  s.AccessExpiresAt,
			RefreshExpiresAt: s.RefreshExpiresAt,
			Current:          s.ID == current,
		})
	}
	response.JSON(c, http.StatusOK, out)
}

// RevokeSession DELETE /auth/sessions/:id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	if err := h.svc.RevokeOwnSession(requestContext(c), currentUserID(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, "Session revoked")
}

func (h *AuthHandler) tokens(pair auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int(h.svc.AccessTTL().Seconds()),
	}
}

func toProfileResponse(p *services.Profile) profileResponse {
	return profileResponse{
		User:            p.User,
		Roles:           p.Roles,
		Permissions:     p.Permissions,
		PasswordExpired: p.PasswordExpired,
	}
}
