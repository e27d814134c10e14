package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeStatus(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
	}{
		{InvalidArgument("bad"), http.StatusBadRequest},
		{Unauthorized("no token"), http.StatusUnauthorized},
		{Forbidden("not yours"), http.StatusForbidden},
		{NotFound("missing"), http.StatusNotFound},
		{MethodNotAllowed(http.MethodGet), http.StatusMethodNotAllowed},
		{RateLimitExceeded("slow down"), http.StatusTooManyRequests},
		{Internal("boom", nil), http.StatusInternalServerError},
		{ServiceUnavailable("down"), http.StatusServiceUnavailable},
		{&APIError{Code: "UNKNOWN"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.err.Code), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status())
		})
	}
}

func TestAPIErrorWrapping(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := fmt.Errorf("handler: %w", Internal("failed to insert message", cause))

	assert.True(t, IsCode(err, ErrCodeInternal))
	assert.False(t, IsCode(err, ErrCodeNotFound))
	assert.Equal(t, ErrCodeInternal, GetCodeFromError(err, ErrCodeInvalidArgument))
	assert.Equal(t, ErrCodeInvalidArgument, GetCodeFromError(cause, ErrCodeInvalidArgument))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "[INTERNAL] failed to insert message")
}

func TestWithDetail(t *testing.T) {
	err := InvalidArgument("body is too long").WithDetail("max", 2000)
	assert.Equal(t, map[string]any{"max": 2000}, err.Details)
}
