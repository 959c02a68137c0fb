package access

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/domain/query"
	"docchat/pkg/logger"
)

// Store is the persistence the gate needs. *postgres.Repository[AccessControl]
// satisfies it.
type Store interface {
	Create(ctx context.Context, data any, cfg *query.Config) (*AccessControl, error)
	Exists(ctx context.Context, cfg *query.Config) (bool, error)
	GetAll(ctx context.Context, cfg *query.Config) ([]AccessControl, error)
	Delete(ctx context.Context, cfg *query.Config) ([]AccessControl, error)
}

// Gate grants, checks and revokes per-resource access.
type Gate struct {
	store Store
	log   *logger.Logger
}

// NewGate creates a gate over the grants store.
func NewGate(store Store, log *logger.Logger) *Gate {
	if log == nil {
		log = logger.Nop()
	}
	return &Gate{store: store, log: log.WithComponent("access")}
}

// byResource narrows cfg to the grants of one resource.
func byResource(cfg *query.Config, ref Ref, rt ResourceType) *query.Config {
	cfg.Where("resource_type", rt)
	if ref.ByUUID() {
		return cfg.Where("resource_uuid", ref.UUID)
	}
	return cfg.Where("resource_id", ref.ID)
}

// Grant records that userID may access the resource.
func (g *Gate) Grant(ctx context.Context, userID int64, ref Ref, rt ResourceType, perm Permission) (*AccessControl, error) {
	if !rt.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown resource type %q", rt))
	}
	if perm == "" {
		perm = PermissionOwner
	}
	if !perm.Valid() {
		return nil, apperror.NewValidation(fmt.Sprintf("unknown permission %q", perm))
	}

	data := map[string]any{
		"user_id":       userID,
		"resource_id":   ref.ID,
		"resource_type": rt,
		"permission":    perm,
	}
	if ref.ByUUID() {
		data["resource_uuid"] = ref.UUID
	}

	grant, err := g.store.Create(ctx, data, nil)
	if err != nil {
		return nil, fmt.Errorf("grant %s %s to user %d: %w", rt, ref, userID, err)
	}
	g.log.WithContext(ctx).Debugw("access granted",
		"user_id", userID, "resource_type", rt, "resource", ref.String(), "permission", perm)
	return grant, nil
}

// Check reports whether userID holds any grant on the resource.
func (g *Gate) Check(ctx context.Context, userID int64, ref Ref, rt ResourceType) (bool, error) {
	cfg := byResource(query.New().Where("user_id", userID), ref, rt)
	ok, err := g.store.Exists(ctx, cfg)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return ok, nil
}

// Revoke removes every grant on the resource.
func (g *Gate) Revoke(ctx context.Context, ref Ref, rt ResourceType) error {
	cfg := byResource(query.New(), ref, rt).WithoutData()
	if _, err := g.store.Delete(ctx, cfg); err != nil {
		return fmt.Errorf("revoke %s %s: %w", rt, ref, err)
	}
	return nil
}

// ResourceIDs lists the IDs of resources of type rt the user holds grants on.
func (g *Gate) ResourceIDs(ctx context.Context, userID int64, rt ResourceType) ([]int64, error) {
	cfg := query.New().
		Where("user_id", userID).
		Where("resource_type", rt).
		Page(0, 0)

	grants, err := g.store.GetAll(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return lo.Uniq(lo.Map(grants, func(a AccessControl, _ int) int64 {
		return a.ResourceID
	})), nil
}

// Authorize checks the caller in ctx against the resource. Superusers pass.
// A denial looks like the resource does not exist.
func (g *Gate) Authorize(ctx context.Context, ref Ref, rt ResourceType) error {
	user := appctx.GetUser(ctx)
	if user == nil {
		return apperror.NewUnauthorized("authentication required")
	}
	if user.IsSuperuser {
		return nil
	}

	ok, err := g.Check(ctx, user.UserID, ref, rt)
	if err != nil {
		return err
	}
	if !ok {
		g.log.WithContext(ctx).Debugw("access denied", "resource_type", rt, "resource", ref.String())
		return apperror.NewNotFound(string(rt), ref.String())
	}
	return nil
}
