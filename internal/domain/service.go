package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/lo"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/core/entity"
	"docchat/internal/core/id"
	"docchat/internal/core/schema"
	"docchat/internal/core/tx"
	"docchat/internal/domain/access"
	"docchat/internal/domain/query"
	"docchat/pkg/logger"
)

// ListResult contains paginated results.
type ListResult[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
}

// ParentLink ties a child resource to the resource it lives in. Creating a
// child requires access to the parent.
type ParentLink[T any] struct {
	Resource access.ResourceType
	ID       func(item *T) int64
}

// Service provides gated CRUD for one resource type. Every read and write
// passes the access gate; create and delete keep the grants in step within
// one transaction.
type Service[T entity.Keyed] struct {
	repo      Repository[T]
	gate      *access.Gate
	txManager tx.Manager
	resource  access.ResourceType
	parent    *ParentLink[T]
	hasUUID   bool
	soft      bool

	hooks       *HookRegistry[*T]
	updateHooks *HookRegistry[Change[T]]
	log         *logger.Logger
}

// ServiceConfig configures a resource service.
type ServiceConfig[T entity.Keyed] struct {
	Repo      Repository[T]
	Gate      *access.Gate
	TxManager tx.Manager
	Resource  access.ResourceType
	Parent    *ParentLink[T]
	Logger    *logger.Logger
}

// NewService creates a resource service.
func NewService[T entity.Keyed](cfg ServiceConfig[T]) *Service[T] {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Service[T]{
		repo:        cfg.Repo,
		gate:        cfg.Gate,
		txManager:   cfg.TxManager,
		resource:    cfg.Resource,
		parent:      cfg.Parent,
		hasUUID:     lo.Contains(schema.Columns[T](), "uuid"),
		soft:        lo.Contains(schema.Columns[T](), "is_deleted"),
		hooks:       NewHookRegistry[*T](),
		updateHooks: NewHookRegistry[Change[T]](),
		log:         log.WithComponent(string(cfg.Resource)),
	}
}

// Hooks returns the create/delete hook registry.
func (s *Service[T]) Hooks() *HookRegistry[*T] { return s.hooks }

// UpdateHooks returns the update hook registry.
func (s *Service[T]) UpdateHooks() *HookRegistry[Change[T]] { return s.updateHooks }

// Resource returns the resource type guarded by this service.
func (s *Service[T]) Resource() access.ResourceType { return s.resource }

// Repo exposes the underlying repository for ungated internal use.
func (s *Service[T]) Repo() Repository[T] { return s.repo }

func (s *Service[T]) caller(ctx context.Context) (*appctx.UserContext, error) {
	user := appctx.GetUser(ctx)
	if user == nil {
		return nil, apperror.NewUnauthorized("authentication required")
	}
	return user, nil
}

// Authorize checks the caller's access to the resource with the given ID.
func (s *Service[T]) Authorize(ctx context.Context, resourceID int64) error {
	return s.gate.Authorize(ctx, access.Ref{ID: resourceID}, s.resource)
}

// AuthorizeParent checks the caller's access to the resource item would be
// created in. Top-level resources always pass.
func (s *Service[T]) AuthorizeParent(ctx context.Context, item *T) error {
	if s.parent == nil {
		return nil
	}
	return s.gate.Authorize(ctx, access.Ref{ID: s.parent.ID(item)}, s.parent.Resource)
}

// Create inserts item and grants the caller owner access to it.
func (s *Service[T]) Create(ctx context.Context, item *T) (*T, error) {
	user, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}

	// 1. Parent access
	if err := s.AuthorizeParent(ctx, item); err != nil {
		return nil, err
	}

	// 2. Before-create hooks (ownership fields, duplicate checks)
	if err := s.hooks.Run(ctx, BeforeCreate, item); err != nil {
		return nil, err
	}

	// 3. Row and owner grant in one transaction
	var created *T
	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.hooks.Run(ctx, BeforeInsert, item); err != nil {
			return err
		}
		if err := schema.Check(item); err != nil {
			return err
		}
		payload, err := schema.ToInsertPayload(item)
		if err != nil {
			return err
		}
		if _, ok := payload["uuid"]; s.hasUUID && !ok {
			payload["uuid"] = id.New()
		}

		row, err := s.repo.Create(ctx, payload, nil)
		if err != nil {
			return fmt.Errorf("create %s: %w", s.resource, err)
		}
		if _, err := s.gate.Grant(ctx, user.UserID, access.RefOf(*row), s.resource, access.PermissionOwner); err != nil {
			return err
		}
		created = row
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 4. After-create hooks run outside the transaction; the row stays.
	if err := s.hooks.Run(ctx, AfterCreate, created); err != nil {
		s.log.WithContext(ctx).Warnw("after-create hook failed", "id", (*created).GetID(), "error", err)
	}
	return created, nil
}

// Get returns the resource or a not-found error.
func (s *Service[T]) Get(ctx context.Context, resourceID int64, cfg *query.Config) (*T, error) {
	if err := s.Authorize(ctx, resourceID); err != nil {
		return nil, err
	}
	item, err := s.repo.Get(ctx, resourceID, s.live(cfg))
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, apperror.NewNotFound(string(s.resource), resourceID)
	}
	return item, nil
}

// live hides soft-deleted rows. cfg is cloned when a filter is added.
func (s *Service[T]) live(cfg *query.Config) *query.Config {
	if !s.soft {
		return cfg
	}
	return cfg.Clone().Where("is_deleted", false)
}

// scoped narrows cfg to resources the caller holds grants on.
func (s *Service[T]) scoped(ctx context.Context, cfg *query.Config) (*query.Config, error) {
	user, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	out := s.live(cfg).Clone()
	if user.IsSuperuser {
		return out, nil
	}

	ids, err := s.gate.ResourceIDs(ctx, user.UserID, s.resource)
	if err != nil {
		return nil, err
	}
	// Qualified so a caller filter on "id" is kept alongside.
	return out.Where(s.repo.Table()+".id", query.In(ids)), nil
}

// List returns the page of accessible resources matching cfg with the total.
func (s *Service[T]) List(ctx context.Context, cfg *query.Config) (ListResult[T], error) {
	if cfg == nil {
		cfg = query.New()
	}
	c, err := s.scoped(ctx, cfg)
	if err != nil {
		return ListResult[T]{}, err
	}

	items, err := s.repo.GetAll(ctx, c)
	if err != nil {
		return ListResult[T]{}, err
	}
	total, err := s.repo.Count(ctx, c)
	if err != nil {
		return ListResult[T]{}, err
	}
	return ListResult[T]{Items: items, TotalCount: total, Limit: c.Limit, Offset: c.Offset}, nil
}

// Count returns the number of accessible resources matching cfg.
func (s *Service[T]) Count(ctx context.Context, cfg *query.Config) (int64, error) {
	if cfg == nil {
		cfg = query.New()
	}
	c, err := s.scoped(ctx, cfg)
	if err != nil {
		return 0, err
	}
	return s.repo.Count(ctx, c)
}

var immutableColumns = []string{"id", "uuid", "created_at"}

// Update applies data to one resource and returns it as stored.
func (s *Service[T]) Update(ctx context.Context, resourceID int64, data map[string]any) (*T, error) {
	if bad := lo.Intersect(lo.Keys(data), immutableColumns); len(bad) > 0 {
		return nil, apperror.NewValidation("read-only columns in update").WithDetail("columns", bad)
	}

	current, err := s.Get(ctx, resourceID, nil)
	if err != nil {
		return nil, err
	}

	change := Change[T]{Current: current, Data: data}
	if err := s.updateHooks.Run(ctx, BeforeUpdate, change); err != nil {
		return nil, err
	}

	// The stored row with the change applied must still satisfy T's rules.
	merged, err := schema.ToInsertPayload(current)
	if err != nil {
		return nil, err
	}
	if _, err := schema.Validate[T](lo.Assign(merged, change.Data)); err != nil {
		return nil, err
	}

	res, err := s.repo.Update(ctx, change.Data, query.ByID(resourceID))
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", s.resource, err)
	}
	if res == nil || res.Item == nil {
		return nil, apperror.NewNotFound(string(s.resource), resourceID)
	}

	if err := s.updateHooks.Run(ctx, AfterUpdate, Change[T]{Current: res.Item, Data: change.Data}); err != nil {
		s.log.WithContext(ctx).Warnw("after-update hook failed", "id", resourceID, "error", err)
	}
	return res.Item, nil
}

// Delete removes one resource and revokes its grants. Types with an
// is_deleted column are flagged rather than removed; ForceDelete removes them.
func (s *Service[T]) Delete(ctx context.Context, resourceID int64) (*T, error) {
	current, err := s.Get(ctx, resourceID, nil)
	if err != nil {
		return nil, err
	}

	if err := s.hooks.Run(ctx, BeforeDelete, current); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if s.soft {
			if _, err := s.repo.Update(ctx, entity.SoftDeleteFields(time.Now()), query.ByID(resourceID).WithoutData()); err != nil {
				return fmt.Errorf("delete %s: %w", s.resource, err)
			}
		} else if err := s.purge(ctx, resourceID); err != nil {
			return err
		}
		return s.gate.Revoke(ctx, access.RefOf(*current), s.resource)
	})
	if err != nil {
		return nil, err
	}

	if err := s.hooks.Run(ctx, AfterDelete, current); err != nil {
		s.log.WithContext(ctx).Warnw("after-delete hook failed", "id", resourceID, "error", err)
	}
	if !s.soft {
		s.afterPurge(ctx, current)
	}
	return current, nil
}

// ForceDelete removes the row for good, soft-deleted or not, with its grants.
// Only superusers may call it.
func (s *Service[T]) ForceDelete(ctx context.Context, resourceID int64) (*T, error) {
	user, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	if !user.IsSuperuser {
		return nil, apperror.NewForbidden("force delete requires a superuser")
	}

	current, err := s.repo.Get(ctx, resourceID, nil)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, apperror.NewNotFound(string(s.resource), resourceID)
	}
	if err := s.hooks.Run(ctx, BeforeDelete, current); err != nil {
		return nil, err
	}

	err = s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.purge(ctx, resourceID); err != nil {
			return err
		}
		return s.gate.Revoke(ctx, access.RefOf(*current), s.resource)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithContext(ctx).Infow("resource purged", "id", resourceID, "user_id", user.UserID)
	s.afterPurge(ctx, current)
	return current, nil
}

func (s *Service[T]) purge(ctx context.Context, resourceID int64) error {
	if _, err := s.repo.Delete(ctx, query.ByID(resourceID).WithoutData()); err != nil {
		return fmt.Errorf("delete %s: %w", s.resource, err)
	}
	return nil
}

func (s *Service[T]) afterPurge(ctx context.Context, item *T) {
	if err := s.hooks.Run(ctx, AfterPurge, item); err != nil {
		s.log.WithContext(ctx).Warnw("after-purge hook failed", "id", (*item).GetID(), "error", err)
	}
}
