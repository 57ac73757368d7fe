package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultAccessTokenTTL is the fallback access token lifetime.
	DefaultAccessTokenTTL = 30 * time.Minute
	// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	// DefaultIssuer is used when no issuer is configured.
	DefaultIssuer = "santaserver"
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	// ErrTokenMalformed covers bad encoding, bad signatures and unexpected algorithms.
	ErrTokenMalformed = errors.New("jwt: malformed token")
	// ErrTokenExpired is returned for tokens past their exp claim.
	ErrTokenExpired = errors.New("jwt: token expired")
	// ErrTokenWrongType is returned when an access token is presented as a refresh token or vice versa.
	ErrTokenWrongType = errors.New("jwt: unexpected token type")
)

// JWTConfig bundles the configuration required to build a JWTService.
type JWTConfig struct {
	Secret          string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// Claims are the claims embedded in every issued token. Identity fields are only
// populated on access tokens.
type Claims struct {
	Type     TokenType `json:"type"`
	Username string    `json:"username,omitempty"`
	Email    string    `json:"email,omitempty"`
	UserType string    `json:"user_type,omitempty"`
	jwt.RegisteredClaims
}

// TokenInput holds the subject data for a new token.
type TokenInput struct {
	UserID   string
	Username string
	Email    string
	UserType string
}

// IssuedToken is a signed token together with its identifier and expiry.
type IssuedToken struct {
	Token     string
	JTI       string
	ExpiresAt time.Time
}

// JWTService issues and validates HS256 tokens.
type JWTService struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret must be provided")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultIssuer
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		secret:     []byte(cfg.Secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *JWTService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *JWTService) RefreshTTL() time.Duration { return s.refreshTTL }

// Generate signs a token of the given type with a fresh ULID identifier.
func (s *JWTService) Generate(tokenType TokenType, input TokenInput) (IssuedToken, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return IssuedToken{}, errors.New("jwt: user id is required")
	}

	now := s.now()
	var ttl time.Duration
	switch tokenType {
	case TokenTypeAccess:
		ttl = s.accessTTL
	case TokenTypeRefresh:
		ttl = s.refreshTTL
	default:
		return IssuedToken{}, fmt.Errorf("jwt: unknown token type %q", tokenType)
	}

	jti, err := newJTI(now)
	if err != nil {
		return IssuedToken{}, err
	}
	expiresAt := now.Add(ttl)

	claims := &Claims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   input.UserID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	if tokenType == TokenTypeAccess {
		claims.Username = input.Username
		claims.Email = input.Email
		claims.UserType = input.UserType
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("jwt: sign token: %w", err)
	}

	// The numeric date claims are second precision.
	return IssuedToken{Token: signed, JTI: jti, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse verifies the signature, algorithm, issuer, time window and token type.
func (s *JWTService) Parse(tokenString string, expected TokenType) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrTokenMalformed
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing subject or id", ErrTokenMalformed)
	}
	if claims.Type != expected {
		return nil, ErrTokenWrongType
	}

	return &claims, nil
}

func newJTI(now time.Time) (string, error) {
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return "", fmt.Errorf("jwt: generate id: %w", err)
	}
	return id.String(), nil
}
