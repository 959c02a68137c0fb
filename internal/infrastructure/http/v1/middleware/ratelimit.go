package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/domain/tier"
	"docchat/internal/infrastructure/ratelimit"
)

// PolicyResolver finds the limit for a tier and sanitized path.
type PolicyResolver interface {
	Policy(ctx context.Context, tierID *int64, path string) tier.Policy
}

// Counter counts a request against a policy.
type Counter interface {
	Hit(ctx context.Context, identity int64, path string, policy tier.Policy) ratelimit.Decision
}

// RateLimit enforces the caller's fixed-window limit on the matched route.
// Signed-in users are counted by ID under their tier's policy; anonymous
// callers by hashed client address under the defaults. Run it after
// OptionalAuth or Auth.
func RateLimit(policies PolicyResolver, counter Counter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		key := tier.SanitizePath(path)

		var (
			identity int64
			tierID   *int64
		)
		if user := appctx.GetUser(ctx); user != nil {
			identity, tierID = user.UserID, user.TierID
		} else {
			identity = ratelimit.AnonymousIdentity(c.ClientIP())
		}

		policy := policies.Policy(ctx, tierID, key)
		d := counter.Hit(ctx, identity, key, policy)

		c.Header("X-RateLimit-Limit", strconv.Itoa(policy.Limit))
		if d.Count > 0 {
			c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining()))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
		if d.Limited {
			retry := int(time.Until(d.ResetAt).Seconds())
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			_ = c.Error(apperror.NewRateLimited(path, policy.Limit, policy.Period))
			c.Abort()
			return
		}
		c.Next()
	}
}
