// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"strconv"
)

// UserContext contains the identity resolved for the current request.
type UserContext struct {
	UserID      int64
	Username    string
	Email       string
	TierID      *int64
	IsSuperuser bool
}

type userContextKey struct{}

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or 0.
func GetUserID(ctx context.Context) int64 {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return 0
}

// IsSuperuser reports whether the caller bypasses per-resource grants.
func IsSuperuser(ctx context.Context) bool {
	u := GetUser(ctx)
	return u != nil && u.IsSuperuser
}

// String renders the user for log fields.
func (u *UserContext) String() string {
	if u == nil {
		return "anonymous"
	}
	return strconv.FormatInt(u.UserID, 10)
}
