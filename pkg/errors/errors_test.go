package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	cause := errors.New("dial tcp: timeout")

	tests := []struct {
		name     string
		err      *AppError
		sentinel error
		code     string
		status   int
	}{
		{"not found", NotFound("video"), ErrNotFound, CodeNotFound, http.StatusNotFound},
		{"invalid", Invalid("Location data is required"), ErrValidation, CodeValidation, http.StatusBadRequest},
		{"conflict", Conflict("already processed"), ErrConflict, CodeConflict, http.StatusConflict},
		{"upstream", Upstream("upload failed", cause), ErrUpstream, CodeUpstream, http.StatusBadGateway},
		{"storage", Storage("insert failed", cause), ErrStorage, CodeStorage, http.StatusInternalServerError},
		{"unauthorized", Unauthorized("Invalid credentials"), ErrUnauthorized, CodeUnauthorized, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.StatusCode)
		})
	}
}

func TestStatusCode(t *testing.T) {
	wrapped := fmt.Errorf("promote: %w", NotFound("video"))
	assert.Equal(t, http.StatusNotFound, StatusCode(wrapped))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
}

func TestUpstreamKeepsCauseText(t *testing.T) {
	err := Upstream("Failed to upload video", errors.New("413 entity too large"))
	assert.Contains(t, err.Error(), "413 entity too large")
	assert.Equal(t, "Failed to upload video", err.Message)
}

func TestWrap(t *testing.T) {
	cause := errors.New("must provide API Secret")
	err := Wrap(cause, CodeInternal, "Failed to sign upload", http.StatusInternalServerError)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, "Failed to sign upload", err.Message)
}
