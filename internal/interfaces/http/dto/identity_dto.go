package dto

import (
	"time"

	appidentity "github.com/orbitpanel/backend/internal/application/identity"
	"github.com/google/uuid"
)

// RegisterRequest creates a new account
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=32"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=128"`
}

// LoginRequest authenticates an account
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest exchanges a refresh token
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ChangePasswordRequest rotates the account password
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=128"`
}

// AccountResponse represents a panel account
type AccountResponse struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	Status      string     `json:"status"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// NewAccountResponse maps account info to its API shape
func NewAccountResponse(info appidentity.AccountInfo) AccountResponse {
	return AccountResponse{
		ID:          info.ID,
		Username:    info.Username,
		Email:       info.Email,
		Role:        string(info.Role),
		Status:      string(info.Status),
		LastLoginAt: info.LastLoginAt,
		CreatedAt:   info.CreatedAt,
	}
}

// TokenResponse represents issued authentication tokens
type TokenResponse struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`
}

// LoginResponse bundles tokens with the account
type LoginResponse struct {
	TokenResponse
	Account AccountResponse `json:"account"`
}
