// Package apierrors defines the typed error taxonomy shared by the repository
// and HTTP layers. Stores return these errors; handlers map them onto the wire
// format without ever leaking driver or stack details.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a domain error with a fixed HTTP mapping. Message is the only text
// that may be surfaced to callers.
type Error struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	Status   int    `json:"httpResponseCode"`
	Category string `json:"errorMessage"`
}

func (e *Error) Error() string {
	return e.Message
}

// NotFound reports that a referenced entity does not exist.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{
		Name:     "NotFoundError",
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusNotFound,
		Category: "Not Found",
	}
}

// Conflict reports a uniqueness or invariant violation.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{
		Name:     "ConflictError",
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusConflict,
		Category: "Conflict",
	}
}

// Forbidden reports that an authenticated caller is not authorized for the
// target tenant or role.
func Forbidden(format string, args ...interface{}) *Error {
	return &Error{
		Name:     "ForbiddenError",
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusForbidden,
		Category: "Forbidden",
	}
}

// BadRequest reports malformed input caught after schema validation.
func BadRequest(format string, args ...interface{}) *Error {
	return &Error{
		Name:     "BadRequestError",
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusBadRequest,
		Category: "Bad Request",
	}
}

// Unauthorized reports a missing or invalid token, or a disallowed identity
// provider.
func Unauthorized(format string, args ...interface{}) *Error {
	return &Error{
		Name:     "UnauthorizedError",
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusUnauthorized,
		Category: "Unauthorized",
	}
}

// TooManyRequests reports that the caller exceeded the rate limit.
func TooManyRequests(format string, args ...interface{}) *Error {
	return &Error{
		Name:     "TooManyRequestsError",
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusTooManyRequests,
		Category: "Too Many Requests",
	}
}

// Internal wraps an unclassified failure. The curated message replaces the
// underlying error text on the wire.
func Internal(format string, args ...interface{}) *Error {
	return &Error{
		Name:     "InternalServerError",
		Message:  fmt.Sprintf(format, args...),
		Status:   http.StatusInternalServerError,
		Category: "Internal Server Error",
	}
}

// From extracts the *Error from err's chain, or classifies err as an internal
// error with a generic message.
func From(err error) *Error {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return Internal("an unexpected error occurred")
}

// IsNotFound reports whether err maps to 404.
func IsNotFound(err error) bool { return statusOf(err) == http.StatusNotFound }

// IsConflict reports whether err maps to 409.
func IsConflict(err error) bool { return statusOf(err) == http.StatusConflict }

// IsForbidden reports whether err maps to 403.
func IsForbidden(err error) bool { return statusOf(err) == http.StatusForbidden }

// IsUnauthorized reports whether err maps to 401.
func IsUnauthorized(err error) bool { return statusOf(err) == http.StatusUnauthorized }

// IsBadRequest reports whether err maps to 400.
func IsBadRequest(err error) bool { return statusOf(err) == http.StatusBadRequest }

func statusOf(err error) int {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Status
	}
	return 0
}
