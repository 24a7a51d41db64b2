package identity

import (
	"context"
	"errors"
	"time"

	"github.com/orbitpanel/backend/internal/domain/identity"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthService handles registration, authentication and token refresh
type AuthService struct {
	accounts   identity.AccountRepository
	jwtService *auth.JWTService
	logger     *zap.Logger
}

// NewAuthService creates a new authentication service
func NewAuthService(accounts identity.AccountRepository, jwtService *auth.JWTService, logger *zap.Logger) *AuthService {
	return &AuthService{
		accounts:   accounts,
		jwtService: jwtService,
		logger:     logger,
	}
}

// Register creates a new active account. Usernames and emails are unique
// across the panel.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*AccountInfo, error) {
	account, err := identity.NewAccount(input.Username, input.Email, input.Password)
	if err != nil {
		return nil, err
	}

	if err := s.accounts.Save(ctx, account); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return nil, shared.NewDomainError("ACCOUNT_EXISTS", "Username or email is already taken")
		}
		s.logger.Error("Failed to save account", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to create account")
	}

	s.logger.Info("Account registered",
		zap.String("account_id", account.ID.String()),
		zap.String("username", account.Username))

	info := accountInfo(account)
	return &info, nil
}

// Login authenticates an account and returns a token pair
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	s.logger.Info("Login attempt", zap.String("username", input.Username))

	account, err := s.accounts.FindByUsername(ctx, input.Username)
	if err != nil {
		s.logger.Warn("Account not found during login", zap.String("username", input.Username))
		return nil, shared.NewDomainError("INVALID_CREDENTIALS", "Invalid username or password")
	}

	if !account.IsActive() {
		s.logger.Warn("Login attempt for inactive account",
			zap.String("username", input.Username),
			zap.String("status", string(account.Status)))
		return nil, shared.NewDomainError("ACCOUNT_INACTIVE", "Account is not active")
	}

	if !account.CheckPassword(input.Password) {
		s.logger.Warn("Invalid password attempt", zap.String("username", input.Username))
		return nil, shared.NewDomainError("INVALID_CREDENTIALS", "Invalid username or password")
	}

	tokenPair, err := s.jwtService.GenerateTokenPair(auth.GenerateTokenInput{
		AccountID: account.ID,
		Username:  account.Username,
		Role:      string(account.Role),
	})
	if err != nil {
		s.logger.Error("Failed to generate token pair", zap.Error(err))
		return nil, shared.NewDomainError("INTERNAL_ERROR", "Failed to generate authentication tokens")
	}

	account.RecordLogin(time.Now())
	if err := s.accounts.Save(ctx, account); err != nil {
		// Don't fail the login over a bookkeeping write.
		s.logger.Error("Failed to record login time", zap.Error(err))
	}

	s.logger.Info("Account logged in",
		zap.String("username", account.Username),
		zap.String("account_id", account.ID.String()))

	return &LoginResult{
		AccessToken:           tokenPair.AccessToken,
		RefreshToken:          tokenPair.RefreshToken,
		AccessTokenExpiresAt:  tokenPair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: tokenPair.RefreshTokenExpiresAt,
		TokenType:             tokenPair.TokenType,
		Account:               accountInfo(account),
	}, nil
}

// RefreshToken exchanges a valid refresh token for a fresh token pair. The
// account is re-read so revoked or deactivated accounts lose access at
// refresh time.
func (s *AuthService) RefreshToken(ctx context.Context, input RefreshTokenInput) (*RefreshTokenResult, error) {
	claims, err := s.jwtService.ValidateRefreshToken(input.RefreshToken)
	if err != nil {
		s.logger.Warn("Refresh token validation failed", zap.Error(err))
		switch {
		case errors.Is(err, auth.ErrExpiredToken):
			return nil, shared.NewDomainError("TOKEN_EXPIRED", "Refresh token has expired")
		case errors.Is(err, auth.ErrInvalidToken):
			return nil, shared.NewDomainError("TOKEN_INVALID", "Invalid refresh token")
		default:
			return nil, shared.NewDomainError("TOKEN_ERROR", "Failed to validate refresh token")
		}
	}

	accountID, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return nil, shared.NewDomainError("TOKEN_INVALID", "Invalid account ID in token")
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		s.logger.Warn("Account not found during token refresh", zap.String("account_id", accountID.String()))
		return nil, shared.NewDomainError("ACCOUNT_NOT_FOUND", "Account not found")
	}
	if !account.IsActive() {
		s.logger.Warn("Token refresh for inactive account", zap.String("account_id", accountID.String()))
		return nil, shared.NewDomainError("ACCOUNT_INACTIVE", "Account is no longer active")
	}

	tokenPair, err := s.jwtService.RefreshTokenPair(input.RefreshToken, account.Username, string(account.Role))
	if err != nil {
		s.logger.Warn("Token refresh failed", zap.Error(err))
		return nil, shared.NewDomainError("TOKEN_ERROR", "Failed to refresh token")
	}

	s.logger.Info("Token refreshed", zap.String("account_id", accountID.String()))

	return &RefreshTokenResult{
		AccessToken:           tokenPair.AccessToken,
		RefreshToken:          tokenPair.RefreshToken,
		AccessTokenExpiresAt:  tokenPair.AccessTokenExpiresAt,
		RefreshTokenExpiresAt: tokenPair.RefreshTokenExpiresAt,
		TokenType:             tokenPair.TokenType,
	}, nil
}

// GetAccount returns account information for the given principal
func (s *AuthService) GetAccount(ctx context.Context, principal shared.Principal, accountID uuid.UUID) (*AccountInfo, error) {
	if !principal.CanAccessAccount(accountID) {
		return nil, shared.ErrForbidden
	}
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	info := accountInfo(account)
	return &info, nil
}

// ChangePassword verifies the old password and stores a new one
func (s *AuthService) ChangePassword(ctx context.Context, input ChangePasswordInput) error {
	account, err := s.accounts.FindByID(ctx, input.AccountID)
	if err != nil {
		return shared.NewDomainError("ACCOUNT_NOT_FOUND", "Account not found")
	}

	if !account.CheckPassword(input.OldPassword) {
		return shared.NewDomainError("INVALID_CREDENTIALS", "Old password is incorrect")
	}
	if err := account.SetPassword(input.NewPassword); err != nil {
		return err
	}

	if err := s.accounts.Save(ctx, account); err != nil {
		s.logger.Error("Failed to update password", zap.Error(err))
		return shared.NewDomainError("INTERNAL_ERROR", "Failed to update password")
	}

	s.logger.Info("Password changed", zap.String("account_id", input.AccountID.String()))
	return nil
}
