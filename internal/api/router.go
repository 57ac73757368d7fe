package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/santaserver/santaserver/internal/app"
	"github.com/santaserver/santaserver/internal/handlers"
	"github.com/santaserver/santaserver/internal/middleware"
	"github.com/santaserver/santaserver/internal/permissions"
)

// NewRouter builds the Gin engine, wires middleware and registers the API routes under
// the configured prefix.
func NewRouter(cfg *app.Config, deps *Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, errors.New("api: config must be provided")
	}
	if deps == nil {
		return nil, errors.New("api: dependencies must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestActor())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowedOrigins))
	if t := cfg.Server.Throttle; t.RequestsPerSecond > 0 && t.Burst > 0 {
		r.Use(middleware.Throttle(t.RequestsPerSecond, t.Burst))
	}

	r.GET("/health", handlers.Health(deps.Health))
	r.GET("/health/ready", handlers.Readiness(deps.Health))

	if prom := cfg.Monitoring.Prometheus; prom.Enabled {
		endpoint := strings.TrimSpace(prom.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	prefix := strings.TrimRight(strings.TrimSpace(cfg.Server.APIPrefix), "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	api := r.Group(prefix)

	if err := registerAuthRoutes(api, cfg, deps); err != nil {
		return nil, err
	}
	if err := registerAdminRoutes(api, deps); err != nil {
		return nil, err
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}

func registerAuthRoutes(api *gin.RouterGroup, cfg *app.Config, deps *Dependencies) error {
	authHandler, err := handlers.NewAuthHandler(deps.Auth)
	if err != nil {
		return err
	}
	requireAuth := middleware.Auth(deps.Sessions)

	auth := api.Group("/auth")
	{
		// Public: login is rate limited, logout and verify check the bearer themselves.
		auth.POST("/login", middleware.LoginRateLimit(deps.RateStore, cfg.Auth.RateLimitConfig()), authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.GET("/verify", authHandler.Verify)

		auth.POST("/logout-all", requireAuth, authHandler.LogoutAll)
		auth.GET("/profile", requireAuth, authHandler.Profile)
		auth.PUT("/profile", requireAuth, authHandler.UpdateProfile)
		auth.POST("/change-password", requireAuth, authHandler.ChangePassword)
		auth.GET("/sessions", requireAuth, authHandler.ListSessions)
		auth.DELETE("/sessions/:id", requireAuth, authHandler.RevokeSession)
	}
	return nil
}

func registerAdminRoutes(api *gin.RouterGroup, deps *Dependencies) error {
	userHandler, err := handlers.NewUserHandler(deps.Users)
	if err != nil {
		return err
	}
	roleHandler, err := handlers.NewRoleHandler(deps.Roles)
	if err != nil {
		return err
	}
	groupHandler, err := handlers.NewGroupHandler(deps.Groups)
	if err != nil {
		return err
	}
	auditHandler, err := handlers.NewAuditHandler(deps.Audit)
	if err != nil {
		return err
	}
	securityHandler, err := handlers.NewSecurityHandler(deps.Posture)
	if err != nil {
		return err
	}

	protected := api.Group("")
	protected.Use(middleware.Auth(deps.Sessions))

	require := func(resource permissions.Resource, action permissions.Action) gin.HandlerFunc {
		return middleware.RequirePermission(deps.Resolver, resource, action)
	}

	users := protected.Group("/users")
	{
		users.GET("", require(permissions.ResourceUsers, permissions.ActionRead), userHandler.List)
		users.POST("", require(permissions.ResourceUsers, permissions.ActionCreate), userHandler.Create)
		users.GET("/:id", require(permissions.ResourceUsers, permissions.ActionRead), userHandler.Get)
		users.PUT("/:id", require(permissions.ResourceUsers, permissions.ActionUpdate), userHandler.Update)
		users.DELETE("/:id", require(permissions.ResourceUsers, permissions.ActionDelete), userHandler.Delete)
		users.PUT("/:id/roles", require(permissions.ResourceUsers, permissions.ActionUpdate), userHandler.AssignRoles)
	}

	roles := protected.Group("/roles")
	{
		roles.GET("", require(permissions.ResourceRoles, permissions.ActionRead), roleHandler.List)
		roles.POST("", require(permissions.ResourceRoles, permissions.ActionCreate), roleHandler.Create)
	}

	groups := protected.Group("/groups")
	{
		groups.GET("", require(permissions.ResourceGroups, permissions.ActionRead), groupHandler.List)
		groups.POST("", require(permissions.ResourceGroups, permissions.ActionCreate), groupHandler.Create)
		groups.POST("/:id/members", require(permissions.ResourceGroups, permissions.ActionUpdate), groupHandler.AddMember)
		groups.POST("/:id/roles", require(permissions.ResourceGroups, permissions.ActionUpdate), groupHandler.AssignRole)
	}

	protected.GET("/audit/events", require(permissions.ResourceSystem, permissions.ActionAudit), auditHandler.List)
	protected.GET("/audit/security-check", require(permissions.ResourceSystem, permissions.ActionAudit), securityHandler.Check)
	return nil
}
