package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		status   int
		errName  string
		category string
	}{
		{"not found", NotFound("tenant %s not found", "t1"), http.StatusNotFound, "NotFoundError", "Not Found"},
		{"conflict", Conflict("duplicate"), http.StatusConflict, "ConflictError", "Conflict"},
		{"forbidden", Forbidden("no access"), http.StatusForbidden, "ForbiddenError", "Forbidden"},
		{"bad request", BadRequest("bad input"), http.StatusBadRequest, "BadRequestError", "Bad Request"},
		{"unauthorized", Unauthorized("no token"), http.StatusUnauthorized, "UnauthorizedError", "Unauthorized"},
		{"too many requests", TooManyRequests("slow down"), http.StatusTooManyRequests, "TooManyRequestsError", "Too Many Requests"},
		{"internal", Internal("boom"), http.StatusInternalServerError, "InternalServerError", "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.errName, tt.err.Name)
			assert.Equal(t, tt.category, tt.err.Category)
		})
	}
}

func TestFrom(t *testing.T) {
	t.Run("unwraps domain errors", func(t *testing.T) {
		original := NotFound("tenant t1 not found")
		wrapped := fmt.Errorf("loading tenant: %w", original)

		assert.Equal(t, original, From(wrapped))
	})

	t.Run("classifies unknown errors as internal with a generic message", func(t *testing.T) {
		err := From(errors.New("pq: connection refused"))

		assert.Equal(t, http.StatusInternalServerError, err.Status)
		assert.NotContains(t, err.Message, "connection refused")
	})
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NotFound("x")))
	assert.True(t, IsConflict(fmt.Errorf("wrapped: %w", Conflict("x"))))
	assert.True(t, IsForbidden(Forbidden("x")))
	assert.True(t, IsUnauthorized(Unauthorized("x")))
	assert.True(t, IsBadRequest(BadRequest("x")))

	assert.False(t, IsNotFound(Conflict("x")))
	assert.False(t, IsConflict(errors.New("plain")))
}
