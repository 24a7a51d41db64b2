package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/orbitpanel/backend/internal/domain/identity"
	"github.com/orbitpanel/backend/internal/domain/shared"
	"github.com/orbitpanel/backend/internal/infrastructure/auth"
	"github.com/orbitpanel/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context keys set by the JWT middleware
const (
	JWTClaimsKey  = "jwt_claims"
	PrincipalKey  = "principal"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// JWTAuth validates the bearer token and resolves the caller's principal.
// The principal is stored both in the gin context and the request context so
// application services see it without knowing about HTTP.
func JWTAuth(jwtService *auth.JWTService, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			abortUnauthorized(c, dto.ErrCodeUnauthorized, "Missing authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, BearerPrefix) {
			abortUnauthorized(c, dto.ErrCodeUnauthorized, "Invalid authorization header format")
			return
		}
		tokenString := strings.TrimPrefix(authHeader, BearerPrefix)
		if tokenString == "" {
			abortUnauthorized(c, dto.ErrCodeUnauthorized, "Missing token")
			return
		}

		claims, err := jwtService.ValidateAccessToken(tokenString)
		if err != nil {
			logger.Warn("JWT validation failed",
				zap.Error(err),
				zap.String("path", c.Request.URL.Path))
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				abortUnauthorized(c, dto.ErrCodeTokenExpired, "Token has expired")
			default:
				abortUnauthorized(c, dto.ErrCodeTokenInvalid, "Invalid token")
			}
			return
		}

		accountID, err := uuid.Parse(claims.AccountID)
		if err != nil {
			abortUnauthorized(c, dto.ErrCodeTokenInvalid, "Invalid account ID in token")
			return
		}

		principal := shared.UserPrincipal(accountID)
		if claims.Role == string(identity.AccountRoleAdmin) {
			principal = shared.AdminPrincipal(accountID)
		}

		c.Set(JWTClaimsKey, claims)
		c.Set(PrincipalKey, principal)
		c.Request = c.Request.WithContext(shared.WithPrincipal(c.Request.Context(), principal))

		c.Next()
	}
}

// AdminOnly rejects requests from non-admin principals. Must run after
// JWTAuth.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := GetPrincipal(c)
		if !ok || !principal.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden,
				dto.NewErrorResponse(dto.ErrCodeForbidden, "Administrator access required"))
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the principal resolved by the JWT middleware
func GetPrincipal(c *gin.Context) (shared.Principal, bool) {
	value, exists := c.Get(PrincipalKey)
	if !exists {
		return shared.Principal{}, false
	}
	principal, ok := value.(shared.Principal)
	return principal, ok
}

// GetClaims returns the JWT claims resolved by the JWT middleware
func GetClaims(c *gin.Context) (*auth.Claims, bool) {
	value, exists := c.Get(JWTClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := value.(*auth.Claims)
	return claims, ok
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, dto.NewErrorResponse(code, message))
}
