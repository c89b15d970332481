package service

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/track360/track360-backend/pkg/config"
	"github.com/track360/track360-backend/pkg/errors"
	"github.com/track360/track360-backend/pkg/logger"
)

const (
	// RoleAdmin is the only dashboard role.
	RoleAdmin = "admin"

	MsgLoginSuccessful    = "Login successful"
	MsgInvalidCredentials = "Invalid credentials"
)

// AuthService checks the single dashboard credential. No session or token
// is issued.
type AuthService struct {
	email    string
	password string
	name     string
	logger   *logger.Logger
}

// NewAuthService creates a new auth service
func NewAuthService(cfg *config.AuthConfig, log *logger.Logger) *AuthService {
	return &AuthService{
		email:    strings.TrimSpace(cfg.AdminEmail),
		password: cfg.AdminPassword,
		name:     cfg.AdminName,
		logger:   log.WithComponent("auth"),
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the body returned on success
type LoginResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	User    *UserInfo `json:"user"`
}

// UserInfo represents user information
type UserInfo struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	Name  string `json:"name"`
}

// Login compares the request against the configured credential.
func (s *AuthService) Login(_ context.Context, req *LoginRequest) (*LoginResponse, error) {
	emailOK := subtle.ConstantTimeCompare([]byte(strings.TrimSpace(req.Email)), []byte(s.email)) == 1
	passwordOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.password)) == 1
	if !emailOK || !passwordOK {
		s.logger.Warn().Str("email", req.Email).Msg("failed login attempt")
		return nil, errors.Unauthorized(MsgInvalidCredentials)
	}

	s.logger.Info().Str("email", s.email).Msg("admin logged in")
	return &LoginResponse{
		Success: true,
		Message: MsgLoginSuccessful,
		User: &UserInfo{
			Email: s.email,
			Role:  RoleAdmin,
			Name:  s.name,
		},
	}, nil
}
