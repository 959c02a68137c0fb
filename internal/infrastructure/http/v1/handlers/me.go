package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"docchat/internal/domain/tier"
)

// PolicyResolver finds the rate limit for a tier and path.
type PolicyResolver interface {
	Policy(ctx context.Context, tierID *int64, path string) tier.Policy
}

// MeHandler reports the caller's identity.
type MeHandler struct {
	*BaseHandler
	policies PolicyResolver
}

func NewMeHandler(base *BaseHandler, policies PolicyResolver) *MeHandler {
	return &MeHandler{BaseHandler: base, policies: policies}
}

type meResponse struct {
	ID          int64       `json:"id"`
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	TierID      *int64      `json:"tier_id"`
	IsSuperuser bool        `json:"is_superuser"`
	RateLimit   rateLimitVO `json:"rate_limit"`
}

type rateLimitVO struct {
	Limit  int `json:"limit"`
	Period int `json:"period"`
}

// Get returns the authenticated user and the limit applied to this route.
// GET /api/v1/me
func (h *MeHandler) Get(c *gin.Context) {
	user, ok := h.User(c)
	if !ok {
		return
	}
	policy := h.policies.Policy(c.Request.Context(), user.TierID, tier.SanitizePath(c.FullPath()))
	h.OK(c, meResponse{
		ID:          user.UserID,
		Username:    user.Username,
		Email:       user.Email,
		TierID:      user.TierID,
		IsSuperuser: user.IsSuperuser,
		RateLimit:   rateLimitVO{Limit: policy.Limit, Period: policy.Period},
	})
}
