// Package tier holds service tiers and the per-path rate limits they grant.
package tier

import (
	"strings"

	"docchat/internal/core/entity"
)

const (
	Table           = "tiers"
	RateLimitsTable = "rate_limits"
)

// Tier is a named service level users are assigned to.
type Tier struct {
	entity.Identity
	entity.Timestamps
	Name string `db:"name" json:"name" validate:"required,max=100"`
}

// RateLimit caps requests to one path for users of a tier.
type RateLimit struct {
	entity.Identity
	entity.UUIDMixin
	entity.Timestamps
	TierID int64  `db:"tier_id" json:"tier_id" validate:"required"`
	Name   string `db:"name" json:"name" validate:"required,max=100"`
	Path   string `db:"path" json:"path" validate:"required,max=255"`
	Limit  int    `db:"limit" json:"limit" validate:"gt=0"`
	Period int    `db:"period" json:"period" validate:"gt=0"`
}

// Policy is the effective limit for one request: at most Limit requests per
// Period seconds.
type Policy struct {
	Limit  int
	Period int
}

// SanitizePath normalizes a URL path into a rate limit key segment:
// surrounding slashes are dropped and inner ones become underscores.
func SanitizePath(path string) string {
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
}
