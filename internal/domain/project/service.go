package project

import (
	"context"
	"strings"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/core/tx"
	"docchat/internal/domain"
	"docchat/internal/domain/access"
	"docchat/internal/domain/query"
	"docchat/pkg/logger"
)

// Service provides gated project CRUD.
// Uses composition with domain.Service for the common operations.
type Service struct {
	*domain.Service[Project]
	repo domain.Repository[Project]
}

// NewService creates a project service.
func NewService(repo domain.Repository[Project], gate *access.Gate, txm tx.Manager, log *logger.Logger) *Service {
	base := domain.NewService(domain.ServiceConfig[Project]{
		Repo:      repo,
		Gate:      gate,
		TxManager: txm,
		Resource:  access.ResourceProject,
		Logger:    log,
	})

	svc := &Service{Service: base, repo: repo}
	base.Hooks().On(domain.BeforeCreate, svc.prepareForCreate)
	base.UpdateHooks().On(domain.BeforeUpdate, svc.prepareForUpdate)
	return svc
}

// prepareForCreate assigns the caller as owner and enforces unique names per user.
func (s *Service) prepareForCreate(ctx context.Context, p *Project) error {
	p.UserID = appctx.GetUserID(ctx)
	p.Name = strings.TrimSpace(p.Name)
	if err := ValidateSettings(p.Settings); err != nil {
		return err
	}
	return s.ensureUniqueName(ctx, p.UserID, p.Name, 0)
}

func (s *Service) prepareForUpdate(ctx context.Context, c domain.Change[Project]) error {
	if _, ok := c.Data["user_id"]; ok {
		return apperror.NewValidation("project owner cannot be changed").WithDetail("field", "user_id")
	}
	if raw, ok := c.Data["settings"]; ok && raw != nil {
		settings, isString := raw.(string)
		if !isString {
			return apperror.NewValidation("settings must be a JSON object").WithDetail("field", "settings")
		}
		if err := ValidateSettings(&settings); err != nil {
			return err
		}
	}
	if name, ok := c.Data["name"].(string); ok {
		name = strings.TrimSpace(name)
		c.Data["name"] = name
		if name != c.Current.Name {
			return s.ensureUniqueName(ctx, c.Current.UserID, name, c.Current.ID)
		}
	}
	return nil
}

func (s *Service) ensureUniqueName(ctx context.Context, userID int64, name string, exclude int64) error {
	cfg := query.New().
		Where("user_id", userID).
		Where("name", name).
		Where("is_deleted", false)
	if exclude > 0 {
		cfg.Where("id", query.Neq(exclude))
	}

	exists, err := s.repo.Exists(ctx, cfg)
	if err != nil {
		return err
	}
	if exists {
		return apperror.NewDuplicate("project", "name", name)
	}
	return nil
}

// ListOwned returns the caller's projects, newest first.
func (s *Service) ListOwned(ctx context.Context, limit, offset int) (domain.ListResult[Project], error) {
	cfg := query.New().
		Where("user_id", appctx.GetUserID(ctx)).
		Where("is_deleted", false).
		OrderBy(query.Desc, "created_at").
		Page(limit, offset)
	return s.List(ctx, cfg)
}
