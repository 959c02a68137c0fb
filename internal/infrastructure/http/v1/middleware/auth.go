package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
)

// IdentityResolver turns a bearer token into the caller's identity. The
// account behind the token must still exist and be active.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (*appctx.UserContext, error)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func setUser(c *gin.Context, user *appctx.UserContext) {
	c.Request = c.Request.WithContext(appctx.WithUser(c.Request.Context(), user))
	c.Set("user_id", user.UserID)
}

// Auth requires a valid bearer token.
func Auth(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			abortUnauthorized(c, "missing authorization header")
			return
		}
		token, ok := bearerToken(c)
		if !ok {
			abortUnauthorized(c, "invalid authorization header format")
			return
		}

		user, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		setUser(c, user)
		c.Next()
	}
}

// OptionalAuth resolves the caller when a valid token is present and lets
// the request through anonymously otherwise.
func OptionalAuth(resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.Next()
			return
		}
		if user, err := resolver.Resolve(c.Request.Context(), token); err == nil && user != nil {
			setUser(c, user)
		}
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, message string) {
	_ = c.Error(apperror.NewUnauthorized(message))
	c.Abort()
}
