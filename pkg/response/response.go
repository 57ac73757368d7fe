package response

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	appErrors "github.com/santaserver/santaserver/pkg/errors"
)

// ErrorBody is the error envelope returned for every failed request.
type ErrorBody struct {
	Detail    string                 `json:"detail"`
	ErrorCode string                 `json:"error_code"`
	Timestamp time.Time              `json:"timestamp"`
	Path      string                 `json:"path"`
	Errors    []appErrors.FieldError `json:"errors,omitempty"`
}

// Page wraps a paginated collection.
type Page[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PerPage    int   `json:"per_page"`
	TotalPages int   `json:"total_pages"`
}

// Message is the payload for operations that only acknowledge success.
type Message struct {
	Message string `json:"message"`
}

// NewPage builds a Page and derives the page count.
func NewPage[T any](items []T, total int64, page, perPage int) Page[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if perPage > 0 {
		pages = int(math.Ceil(float64(total) / float64(perPage)))
	}
	return Page[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: pages,
	}
}

// JSON writes the payload as-is with the given status.
func JSON(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, data)
}

// OK writes a message acknowledgement with 200.
func OK(c *gin.Context, message string) {
	c.JSON(http.StatusOK, Message{Message: message})
}

// Error writes the error envelope derived from an AppError.
func Error(c *gin.Context, err error) {
	if err == nil {
		err = appErrors.ErrInternalServer
	}

	appErr := appErrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	path := ""
	if c.Request != nil && c.Request.URL != nil {
		path = c.Request.URL.Path
	}

	if appErr.Internal != nil {
		_ = c.Error(appErr.Internal)
	}

	c.JSON(status, ErrorBody{
		Detail:    appErr.Message,
		ErrorCode: appErr.Code,
		Timestamp: time.Now().UTC(),
		Path:      path,
		Errors:    appErr.Fields,
	})
}

// Abort writes the error envelope and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
