package handler_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/track360/track360-backend/internal/auth/handler"
	"github.com/track360/track360-backend/internal/auth/service"
	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/httputil"
	"github.com/track360/track360-backend/pkg/logger"
	"github.com/track360/track360-backend/pkg/testutil"
)

func TestAuthHandler_Login(t *testing.T) {
	svc := service.NewAuthService(&config.AuthConfig{
		AdminEmail:    "admin@municipal.com",
		AdminPassword: "s3cret-pass",
		AdminName:     "Municipal Admin",
	}, logger.Nop())
	h := http.HandlerFunc(handler.NewAuthHandler(svc, logger.Nop()).Login)

	t.Run("success", func(t *testing.T) {
		rr := testutil.ExecuteRequest(h, testutil.NewHTTPRequest(http.MethodPost, "/api/auth", map[string]string{
			"email": "admin@municipal.com", "password": "s3cret-pass",
		}))
		testutil.AssertStatus(t, rr, http.StatusOK)

		var body service.LoginResponse
		testutil.ParseJSONBody(t, rr, &body)
		assert.True(t, body.Success)
		assert.Equal(t, "admin", body.User.Role)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		rr := testutil.ExecuteRequest(h, testutil.NewHTTPRequest(http.MethodPost, "/api/auth", map[string]string{
			"email": "admin@municipal.com", "password": "nope",
		}))
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)

		var body httputil.ErrorResponse
		testutil.ParseJSONBody(t, rr, &body)
		assert.False(t, body.Success)
		assert.Equal(t, service.MsgInvalidCredentials, body.Message)
	})

	t.Run("missing fields", func(t *testing.T) {
		rr := testutil.ExecuteRequest(h, testutil.NewHTTPRequest(http.MethodPost, "/api/auth", map[string]string{
			"email": "not-an-email",
		}))
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
		testutil.AssertBodyContains(t, rr, "VALIDATION_ERROR")
	})

	t.Run("malformed body", func(t *testing.T) {
		req := testutil.NewHTTPRequest(http.MethodPost, "/api/auth", nil)
		rr := testutil.ExecuteRequest(h, req)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})
}
