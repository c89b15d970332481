package httputil

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/logger"
)

func TestError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, errors.NotFoundMessage("Unprocessed record not found"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.False(t, body.Success)
	assert.Equal(t, "Unprocessed record not found", body.Message)
	assert.Equal(t, body.Message, body.Error)
	assert.Equal(t, errors.CodeNotFound, body.Code)
}

func TestError_PlainErrorIsInternal(t *testing.T) {
	rec := httptest.NewRecorder()

	Error(rec, stderrors.New("socket closed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, errors.CodeInternal, body.Code)
	assert.NotContains(t, body.Message, "socket")
}

func TestJSON_WrapsData(t *testing.T) {
	rec := httptest.NewRecorder()

	JSON(rec, http.StatusOK, map[string]int{"total_videos": 3})

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"total_videos": float64(3)}, body["data"])
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing uses default", "", 10},
		{"valid value", "limit=25", 25},
		{"malformed uses default", "limit=abc", 10},
		{"clamped to max", "limit=5000", 100},
		{"clamped to min", "limit=-4", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/videos/search?"+tt.query, nil)
			assert.Equal(t, tt.want, QueryInt(r, "limit", 10, 1, 100))
		})
	}
}

func TestValidate(t *testing.T) {
	type payload struct {
		ID       string   `json:"id" validate:"required,objectid"`
		Latitude *float64 `json:"latitude" validate:"required,latitude"`
	}

	lat := 28.5
	assert.NoError(t, Validate(payload{ID: "65a1b2c3d4e5f6a7b8c9d0e1", Latitude: &lat}))

	bad := 120.0
	err := Validate(payload{ID: "nope", Latitude: &bad})
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, errors.CodeValidation, appErr.Code)
	assert.Contains(t, appErr.Details, "id")
	assert.Contains(t, appErr.Details, "latitude")
}

func TestIsObjectID(t *testing.T) {
	assert.True(t, IsObjectID("65A1B2C3D4E5F6A7B8C9D0E1"))
	assert.False(t, IsObjectID("65a1b2c3d4e5f6a7b8c9d0e"))
	assert.False(t, IsObjectID("zza1b2c3d4e5f6a7b8c9d0e1"))
}

func TestMiddleware_RequestIDAndRecoverer(t *testing.T) {
	var seen string
	h := RequestID(Recoverer(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/stats", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
