package middleware

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/verax-io/verax/internal/audit"
	"github.com/verax-io/verax/internal/logger"
)

// ErrorResponse represents a structured error response
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// BadRequest returns a 400 Bad Request error response
func BadRequest(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusBadRequest, "Bad Request", message)
}

// NotFound returns a 404 Not Found error response
func NotFound(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusNotFound, "Not Found", message)
}

// Conflict returns a 409 Conflict error response
func Conflict(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusConflict, "Conflict", message)
}

// Forbidden returns a 403 Forbidden error response
func Forbidden(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusForbidden, "Forbidden", message)
}

// Unauthorized returns a 401 Unauthorized error response
func Unauthorized(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusUnauthorized, "Unauthorized", message)
}

// TooManyRequests returns a 429 Too Many Requests error response
func TooManyRequests(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusTooManyRequests, "Too Many Requests", message)
}

// ServiceUnavailable returns a 503 Service Unavailable error response
func ServiceUnavailable(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusServiceUnavailable, "Service Unavailable", message)
}

// InternalError returns a 500 Internal Server Error response
func InternalError(c *fiber.Ctx, message string) error {
	return errorResponse(c, fiber.StatusInternalServerError, "Internal Server Error", message)
}

// DomainError maps an audit error to its HTTP response. Tenant
// violations deliberately map to 500: they mark an internal defect,
// not a caller mistake, and the response must not leak which tenant
// boundary was crossed.
func DomainError(c *fiber.Ctx, err error) error {
	switch {
	case audit.IsValidation(err):
		return BadRequest(c, err.Error())
	case audit.IsNotFound(err):
		return NotFound(c, err.Error())
	case audit.IsConflict(err):
		return Conflict(c, err.Error())
	case audit.IsStoreUnavailable(err):
		return ServiceUnavailable(c, "audit store unavailable")
	case errors.Is(err, audit.ErrReportQueueFull):
		c.Set("Retry-After", "5")
		return ServiceUnavailable(c, "report queue is full, retry later")
	default:
		return InternalError(c, "internal error")
	}
}

// errorResponse creates a structured error response
func errorResponse(c *fiber.Ctx, status int, error string, message string) error {
	response := ErrorResponse{
		Error:     error,
		Message:   message,
		RequestID: GetRequestID(c),
		Timestamp: time.Now(),
		Path:      c.Path(),
	}

	// Log the error with context
	log := GetLogger(c)
	log.Error("HTTP error response",
		logger.String("error", error),
		logger.String("message", message),
		logger.String("method", c.Method()),
		logger.String("path", c.Path()),
		logger.Int("status", status),
		logger.String("user_ip", c.IP()),
	)

	return c.Status(status).JSON(response)
}
