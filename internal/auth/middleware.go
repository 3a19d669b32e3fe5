package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/colinmxs/spendgate/internal/logging"
	"github.com/colinmxs/spendgate/internal/quota"
)

const (
	// ContextKeyPrincipal is the key for storing the principal in gin context
	ContextKeyPrincipal = "principal"
)

// Middleware extracts and validates the bearer token from the request.
// Sets the principal in context if valid; never rejects by itself.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw != "" {
			p, err := v.ParseToken(raw)
			if err == nil {
				c.Set(ContextKeyPrincipal, p)
				ctx := logging.WithUserID(c.Request.Context(), p.UserID)
				c.Request = c.Request.WithContext(ctx)
			}
		}

		c.Next()
	}
}

// RequirePrincipal rejects requests without a valid bearer token.
func RequirePrincipal() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyPrincipal); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Bearer token required. Include 'Authorization: Bearer <jwt>' header.",
			})
			return
		}
		c.Next()
	}
}

// RequireAdmin rejects requests whose X-Admin-Secret header does not match
// the configured secret. An empty configured secret disables admin access
// entirely rather than leaving it open.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Admin-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Admin access denied.",
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal returns the authenticated principal from context.
func GetPrincipal(c *gin.Context) (*quota.Principal, bool) {
	p, exists := c.Get(ContextKeyPrincipal)
	if !exists {
		return nil, false
	}
	principal, ok := p.(*quota.Principal)
	return principal, ok
}

// IsAuthenticated checks if the request carries a valid principal.
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyPrincipal)
	return exists
}
