package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/santaserver/santaserver/internal/api"
	"github.com/santaserver/santaserver/internal/app"
	"github.com/santaserver/santaserver/internal/database"
	sharedtestutil "github.com/santaserver/santaserver/internal/database/testutil"
	"github.com/santaserver/santaserver/internal/models"
	"github.com/santaserver/santaserver/pkg/response"
)

const (
	// AdminUsername and AdminPassword are the bootstrap credentials seeded by NewEnv.
	AdminUsername = "admin"
	AdminPassword = "Admin123!"
	// APIPrefix is the route prefix used by the test router.
	APIPrefix = "/api/v1"
)

// Clock is a mutable time source shared by every service in the Env.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	Deps   *api.Dependencies
	Config *app.Config
	Clock  *Clock
	Admin  *models.User
}

// EnvOption customises the configuration before the router is built.
type EnvOption func(*app.Config, *api.Options)

// WithConfig mutates the test configuration.
func WithConfig(fn func(*app.Config)) EnvOption {
	return func(cfg *app.Config, _ *api.Options) {
		fn(cfg)
	}
}

// WithAPIOptions mutates the dependency options.
func WithAPIOptions(fn func(*api.Options)) EnvOption {
	return func(_ *app.Config, opts *api.Options) {
		fn(opts)
	}
}

// NewEnv provisions a fresh handler test environment with seed data and a bootstrap admin.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())
	clock := &Clock{current: time.Date(2024, 12, 1, 9, 0, 0, 0, time.UTC)}

	cfg := &app.Config{
		Server: app.ServerConfig{APIPrefix: APIPrefix},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret:                   "test-suite-super-secret-key-32-bytes!!",
				Issuer:                   "test-suite",
				AccessTokenExpireMinutes: 30,
				RefreshTokenExpireDays:   7,
			},
			Password: app.PasswordSettings{
				MinLength:        8,
				RequireUppercase: true,
				RequireLowercase: true,
				RequireNumbers:   true,
				RequireSymbols:   true,
				BcryptRounds:     bcrypt.MinCost,
				ExpiryDays:       90,
			},
			Lockout: app.LockoutSettings{MaxAttempts: 5, DurationMinutes: 15},
		},
	}
	apiOpts := api.Options{Clock: clock.Now}
	for _, opt := range opts {
		opt(cfg, &apiOpts)
	}

	deps, err := api.NewDependencies(db, cfg, apiOpts)
	require.NoError(t, err)

	hash, err := deps.Policy.Hash(AdminPassword)
	require.NoError(t, err)
	expires := deps.Policy.ExpiresAt(clock.Now())
	admin, _, err := database.EnsureBootstrapAdmin(context.Background(), db, database.BootstrapAdmin{
		Username:          AdminUsername,
		Email:             "admin@santaserver.local",
		PasswordHash:      hash,
		PasswordExpiresAt: expires,
		Now:               clock.Now(),
	})
	require.NoError(t, err)

	router, err := api.NewRouter(cfg, deps)
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		Deps:   deps,
		Config: cfg,
		Clock:  clock,
		Admin:  admin,
	}
}

// UserPayload captures the subset of user fields returned from the API.
type UserPayload struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	UserType string   `json:"user_type"`
	IsActive bool     `json:"is_active"`
	Roles    []string `json:"roles"`
}

// LoginResult bundles the JSON response from POST /auth/login.
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         UserPayload `json:"user"`
}

// Login authenticates and returns the issued token pair, failing the test on any error.
func (e *Env) Login(username, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, w, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.NotEmpty(e.T, result.RefreshToken)
	require.Equal(e.T, "bearer", result.TokenType)
	require.Greater(e.T, result.ExpiresIn, 0)
	return result
}

// LoginAdmin logs in with the bootstrap admin credentials.
func (e *Env) LoginAdmin() LoginResult {
	e.T.Helper()
	return e.Login(AdminUsername, AdminPassword)
}

// DecodeInto unmarshals the response body into dest.
func DecodeInto[T any](t *testing.T, w *httptest.ResponseRecorder, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dest), w.Body.String())
}

// DecodeError parses the error envelope.
func DecodeError(t *testing.T, w *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// Request executes an HTTP request against the API prefix, applying JSON encoding and
// the bearer token when given.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RawRequest(method, APIPrefix+path, body, token, nil)
}

// RawRequest executes a request against an absolute path with optional extra headers.
func (e *Env) RawRequest(method, path string, body any, token string, headers map[string]string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			data, err := json.Marshal(body)
			require.NoError(e.T, err)
			buf.Write(data)
		}
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// CreateUser creates a local user through the API as admin and returns it.
func (e *Env) CreateUser(adminToken, username, password string, roles ...string) UserPayload {
	e.T.Helper()

	payload := map[string]any{
		"username": username,
		"email":    username + "@co.com",
		"password": password,
	}
	if len(roles) > 0 {
		payload["roles"] = roles
	}
	w := e.Request(http.MethodPost, "/users", payload, adminToken)
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	var user UserPayload
	DecodeInto(e.T, w, &user)
	return user
}
