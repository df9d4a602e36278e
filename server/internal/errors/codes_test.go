package errors

import (
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
	}{
		{Unauthorized("no session"), http.StatusUnauthorized},
		{NotFound("conversation not found"), http.StatusNotFound},
		{InvalidArgument("content is required"), http.StatusBadRequest},
		{RateLimitExceeded("slow down"), http.StatusTooManyRequests},
		{Configuration("LUMICHAT_AI_API_KEY is not set", nil), http.StatusInternalServerError},
		{Internal("store failed", io.EOF), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.HTTPStatus(), tt.err.Code)
	}
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, InternalMessage, Internal("failed to insert message", io.EOF).PublicMessage())
	assert.Equal(t, "LUMICHAT_AI_API_KEY is not set", Configuration("LUMICHAT_AI_API_KEY is not set", nil).PublicMessage())
}

func TestFromError(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", NotFound("missing"))
	assert.True(t, IsCode(wrapped, ErrCodeNotFound))
	assert.Equal(t, ErrCodeNotFound, FromError(wrapped).Code)

	plain := FromError(io.EOF)
	assert.Equal(t, ErrCodeInternal, plain.Code)
	assert.ErrorIs(t, plain, io.EOF)
}
