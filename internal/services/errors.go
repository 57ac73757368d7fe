package services

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/santaserver/santaserver/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.NewNotFound("User")
	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = apperrors.NewNotFound("Role")
	// ErrGroupNotFound indicates the requested group does not exist.
	ErrGroupNotFound = apperrors.NewNotFound("Group")
	// ErrSessionNotFound indicates the caller has no such session.
	ErrSessionNotFound = apperrors.NewNotFound("Session")
	// ErrSelfDeactivation stops an administrator from deactivating their own account.
	ErrSelfDeactivation = apperrors.New("SELF_DEACTIVATION", "You cannot deactivate your own account", http.StatusBadRequest)
	// ErrInvalidCurrentPassword is returned by password change when the current password is wrong.
	ErrInvalidCurrentPassword = apperrors.New("INVALID_CURRENT_PASSWORD", "Current password is incorrect", http.StatusBadRequest)
	// ErrExternalAccount is returned for password operations on externally managed users.
	ErrExternalAccount = apperrors.New("EXTERNAL_ACCOUNT", "Password is managed by an external identity provider", http.StatusBadRequest)
	// ErrUsernameTaken and ErrEmailTaken report uniqueness conflicts.
	ErrUsernameTaken = apperrors.New("USERNAME_TAKEN", "Username already registered", http.StatusConflict)
	ErrEmailTaken    = apperrors.New("EMAIL_TAKEN", "Email already registered", http.StatusConflict)
)

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}
