package tier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"

	"docchat/internal/core/apperror"
	"docchat/internal/core/schema"
	"docchat/internal/domain"
	"docchat/internal/domain/query"
	"docchat/pkg/logger"
)

// PolicyCache stores resolved policies between requests. Implementations
// report misses and outages the same way.
type PolicyCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
}

// DefaultPolicyTTL bounds how long a cached policy survives an edit made
// outside this process.
const DefaultPolicyTTL = 5 * time.Minute

// Service manages tiers and resolves rate limit policies.
type Service struct {
	tiers    domain.Repository[Tier]
	limits   domain.Repository[RateLimit]
	cache    PolicyCache
	defaults Policy
	ttl      time.Duration
	log      *logger.Logger
}

// NewService creates a tier service. cache may be nil.
func NewService(tiers domain.Repository[Tier], limits domain.Repository[RateLimit], cache PolicyCache, defaults Policy, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		tiers:    tiers,
		limits:   limits,
		cache:    cache,
		defaults: defaults,
		ttl:      DefaultPolicyTTL,
		log:      log.WithComponent("tier"),
	}
}

// Defaults returns the policy applied when no specific limit exists.
func (s *Service) Defaults() Policy { return s.defaults }

// CreateTier adds a tier with a unique name.
func (s *Service) CreateTier(ctx context.Context, name string) (*Tier, error) {
	t := Tier{Name: strings.TrimSpace(name)}
	if err := schema.Check(t); err != nil {
		return nil, err
	}
	exists, err := s.tiers.Exists(ctx, query.New().Where("name", t.Name))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperror.NewDuplicate("tier", "name", t.Name)
	}
	return s.tiers.Create(ctx, t, nil)
}

// ListTiers returns the tiers matching cfg, by name unless cfg sorts. A nil
// cfg lists every tier.
func (s *Service) ListTiers(ctx context.Context, cfg *query.Config) ([]Tier, error) {
	if cfg == nil {
		cfg = query.New().Page(0, 0)
	}
	if len(cfg.Sort) == 0 {
		cfg = cfg.Clone().OrderBy(query.Asc, "name")
	}
	return s.tiers.GetAll(ctx, cfg)
}

// GetTier returns the tier or a not-found error.
func (s *Service) GetTier(ctx context.Context, tierID int64) (*Tier, error) {
	t, err := s.tiers.Get(ctx, tierID, nil)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, apperror.NewNotFound("tier", tierID)
	}
	return t, nil
}

// CreateRateLimit adds a limit for a tier. The path is stored sanitized so it
// matches the request key.
func (s *Service) CreateRateLimit(ctx context.Context, rl RateLimit) (*RateLimit, error) {
	rl.Path = SanitizePath(rl.Path)
	if err := schema.Check(rl); err != nil {
		return nil, err
	}
	if _, err := s.GetTier(ctx, rl.TierID); err != nil {
		return nil, err
	}

	exists, err := s.limits.Exists(ctx, query.New().Where("name", rl.Name))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperror.NewDuplicate("rate_limit", "name", rl.Name)
	}

	rl.EnsureUUID()
	created, err := s.limits.Create(ctx, rl, nil)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Delete(ctx, policyKey(rl.TierID, rl.Path))
	}
	return created, nil
}

// ListRateLimits returns the limits of a tier.
func (s *Service) ListRateLimits(ctx context.Context, tierID int64) ([]RateLimit, error) {
	return s.limits.GetAll(ctx, query.New().Where("tier_id", tierID).OrderBy(query.Asc, "path").Page(0, 0))
}

func policyKey(tierID int64, path string) string {
	return fmt.Sprintf("ratelimit:policy:%d:%s", tierID, path)
}

func encodePolicy(p Policy) []byte {
	return []byte(fmt.Sprintf("%d:%d", p.Limit, p.Period))
}

func decodePolicy(raw []byte) (Policy, bool) {
	limit, period, ok := strings.Cut(string(raw), ":")
	if !ok {
		return Policy{}, false
	}
	l, err := cast.ToIntE(limit)
	if err != nil {
		return Policy{}, false
	}
	p, err := cast.ToIntE(period)
	if err != nil || l <= 0 || p <= 0 {
		return Policy{}, false
	}
	return Policy{Limit: l, Period: p}, true
}

// Policy resolves the limit for a tier and sanitized path. Users without a
// tier, paths without a configured limit and lookup failures all get the
// defaults.
func (s *Service) Policy(ctx context.Context, tierID *int64, path string) Policy {
	log := s.log.WithContext(ctx)
	if tierID == nil {
		log.Debugw("no tier assigned, applying default rate limit", "path", path)
		return s.defaults
	}

	key := policyKey(*tierID, path)
	if s.cache != nil {
		if raw, ok := s.cache.Get(ctx, key); ok {
			if p, ok := decodePolicy(raw); ok {
				return p
			}
		}
	}

	found, err := s.limits.GetAll(ctx, query.New().
		Where("tier_id", *tierID).
		Where("path", path).
		Page(1, 0))
	if err != nil {
		log.Warnw("rate limit lookup failed, applying default", "tier_id", *tierID, "path", path, "error", err)
		return s.defaults
	}

	policy := s.defaults
	if len(found) > 0 {
		policy = Policy{Limit: found[0].Limit, Period: found[0].Period}
	} else {
		log.Debugw("no specific rate limit for path, applying default", "tier_id", *tierID, "path", path)
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, encodePolicy(policy), s.ttl)
	}
	return policy
}
