package handlers

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	apperrors "github.com/santaserver/santaserver/pkg/errors"
	"github.com/santaserver/santaserver/pkg/response"
	appValidator "github.com/santaserver/santaserver/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// The body may already have been read and cached by middleware. When validation fails,
// a 422 response is written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindBodyWith(dest, binding.JSON); err != nil {
		response.Error(c, apperrors.NewValidation("Invalid JSON payload",
			apperrors.FieldError{Field: "body", Message: "Request body must be valid JSON"}))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, validationError(err))
		return false
	}

	return true
}

func validationError(err error) *apperrors.AppError {
	var ve appValidator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return apperrors.NewValidation("Invalid request payload")
	}

	fields := make([]apperrors.FieldError, 0, len(ve))
	for _, failure := range ve {
		fields = append(fields, apperrors.FieldError{
			Field:   failure.Field,
			Message: fieldMessage(failure),
		})
	}
	return apperrors.NewValidation("Request validation failed", fields...)
}

func fieldMessage(failure appValidator.ValidationError) string {
	field := prettifyFieldName(failure.Field)
	switch failure.Tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, failure.Param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, failure.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, failure.Param)
	case "username":
		return fmt.Sprintf("%s may contain only letters, digits, dots, dashes and underscores", field)
	default:
		if failure.Param != "" {
			return fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param)
		}
		return fmt.Sprintf("%s failed validation: %s", field, failure.Tag)
	}
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}

func parseIntQuery(c *gin.Context, key string, fallback int) int {
	value := strings.TrimSpace(c.Query(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
