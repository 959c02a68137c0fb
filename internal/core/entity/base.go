// Package entity holds the column mixins shared by every persisted record.
package entity

import (
	"time"

	"docchat/internal/core/id"
)

// Columns tagged insert:"omitzero" are left to database defaults when zero.

// Identity is the surrogate primary key.
type Identity struct {
	ID int64 `db:"id" json:"id" insert:"omitzero"`
}

// GetID returns the primary key.
func (i Identity) GetID() int64 { return i.ID }

// Timestamps mirrors created_at/updated_at maintained by the database.
type Timestamps struct {
	CreatedAt time.Time  `db:"created_at" json:"created_at" insert:"omitzero"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty" insert:"omitzero"`
}

// SoftDelete marks rows hidden from normal listings without removing them.
type SoftDelete struct {
	IsDeleted bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// UUIDMixin carries the public identifier of an addressable record.
type UUIDMixin struct {
	UUID id.ID `db:"uuid" json:"uuid" insert:"omitzero"`
}

// GetUUID returns the public identifier.
func (u UUIDMixin) GetUUID() id.ID { return u.UUID }

// EnsureUUID assigns a new UUID when none is set and returns it.
func (u *UUIDMixin) EnsureUUID() id.ID {
	if id.IsNil(u.UUID) {
		u.UUID = id.New()
	}
	return u.UUID
}

// Keyed is implemented by records addressable through the access gate.
type Keyed interface {
	GetID() int64
	GetUUID() id.ID
}

// SoftDeleteFields returns the column values that soft-delete a row.
func SoftDeleteFields(at time.Time) map[string]any {
	return map[string]any{"is_deleted": true, "deleted_at": at}
}
