// Package domain provides the gated resource service shared by every entity.
package domain

import (
	"context"

	"docchat/internal/domain/query"
)

// --- Repository Interface ---

// Repository is the query surface a resource service needs.
// *postgres.Repository[T] implements it.
type Repository[T any] interface {
	Table() string

	// Get returns the row with primary key id, or nil when absent.
	Get(ctx context.Context, id any, cfg *query.Config) (*T, error)

	// GetAll returns every matching row; never nil.
	GetAll(ctx context.Context, cfg *query.Config) ([]T, error)

	Create(ctx context.Context, data any, cfg *query.Config) (*T, error)
	Update(ctx context.Context, data map[string]any, cfg *query.Config) (*query.Result[T], error)
	Delete(ctx context.Context, cfg *query.Config) ([]T, error)
	Count(ctx context.Context, cfg *query.Config) (int64, error)
	Exists(ctx context.Context, cfg *query.Config) (bool, error)
}

// --- Hooks ---

// HookEvent represents lifecycle event type.
type HookEvent string

const (
	BeforeCreate HookEvent = "before_create"
	AfterCreate  HookEvent = "after_create"
	BeforeUpdate HookEvent = "before_update"
	AfterUpdate  HookEvent = "after_update"
	BeforeDelete HookEvent = "before_delete"
	AfterDelete  HookEvent = "after_delete"

	// BeforeInsert runs inside the create transaction, after BeforeCreate
	// and right before the row is written.
	BeforeInsert HookEvent = "before_insert"
	// AfterPurge runs once a row is removed for good rather than flagged.
	AfterPurge HookEvent = "after_purge"
)

// Hook is a function that runs at specific lifecycle points.
type Hook[E any] func(ctx context.Context, event E) error

// Change is the payload of update hooks: the stored row and the requested
// column values. Before-update hooks may edit Data.
type Change[T any] struct {
	Current *T
	Data    map[string]any
}

// HookRegistry stores lifecycle hooks for one payload type.
type HookRegistry[E any] struct {
	hooks map[HookEvent][]Hook[E]
}

// NewHookRegistry creates an empty hook registry.
func NewHookRegistry[E any]() *HookRegistry[E] {
	return &HookRegistry[E]{
		hooks: make(map[HookEvent][]Hook[E]),
	}
}

// On registers a hook for the specified event.
func (r *HookRegistry[E]) On(event HookEvent, hook Hook[E]) {
	r.hooks[event] = append(r.hooks[event], hook)
}

// Run executes all hooks for the event, stopping at the first error.
func (r *HookRegistry[E]) Run(ctx context.Context, event HookEvent, payload E) error {
	for _, hook := range r.hooks[event] {
		if err := hook(ctx, payload); err != nil {
			return err
		}
	}
	return nil
}
