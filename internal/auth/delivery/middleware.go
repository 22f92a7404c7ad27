package delivery

import (
	"net/http"
	"strings"

	accountdomain "levramail-backend/internal/account/domain"
	authdomain "levramail-backend/internal/auth/domain"
	"levramail-backend/internal/auth/usecase"

	"github.com/gin-gonic/gin"
)

const (
	principalKey  = "principal"
	accountHeader = "X-Account-ID"
)

// AccountLookup resolves mailbox accounts for ownership checks.
type AccountLookup interface {
	FindByID(id string) (*accountdomain.Account, error)
}

// AuthMiddleware validates the bearer token. The mailbox account comes from the token's
// account_id claim or the X-Account-ID header and must belong to the token's user.
func AuthMiddleware(authUsecase usecase.AuthUsecase, accounts AccountLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		principal, err := authUsecase.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		if principal.AccountID == "" {
			principal.AccountID = c.GetHeader(accountHeader)
		}
		if principal.AccountID != "" {
			account, err := accounts.FindByID(principal.AccountID)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to load account"})
				return
			}
			if account == nil || account.UserID != principal.UserID {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account not accessible"})
				return
			}
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequireAccount rejects requests that did not select a mailbox account.
func RequireAccount() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := Principal(c); p == nil || p.AccountID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id claim or X-Account-ID header required"})
			return
		}
		c.Next()
	}
}

// Principal returns the caller set by AuthMiddleware, or nil.
func Principal(c *gin.Context) *authdomain.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*authdomain.Principal)
	return p
}
