// Package access records which user may reach which resource and enforces it.
package access

import (
	"fmt"

	"docchat/internal/core/entity"
	"docchat/internal/core/id"
)

// Table is the grants table.
const Table = "access_controls"

// ResourceType names the kind of resource a grant points at.
type ResourceType string

const (
	ResourceProject     ResourceType = "project"
	ResourceChatSession ResourceType = "chat_session"
	ResourceChatMessage ResourceType = "chat_message"
	ResourceDocument    ResourceType = "document"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceProject, ResourceChatSession, ResourceChatMessage, ResourceDocument:
		return true
	}
	return false
}

// Permission is the level recorded on a grant. Checks only test that a grant
// exists.
type Permission string

const (
	PermissionOwner        Permission = "owner"
	PermissionCollaborator Permission = "collaborator"
	PermissionViewer       Permission = "viewer"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	switch p {
	case PermissionOwner, PermissionCollaborator, PermissionViewer:
		return true
	}
	return false
}

// Ref identifies a resource by UUID when set, otherwise by numeric ID.
type Ref struct {
	ID   int64
	UUID id.ID
}

// RefOf builds the reference of a stored record.
func RefOf(k entity.Keyed) Ref {
	return Ref{ID: k.GetID(), UUID: k.GetUUID()}
}

// ByUUID reports whether the UUID is the lookup key.
func (r Ref) ByUUID() bool {
	return !id.IsNil(r.UUID)
}

func (r Ref) String() string {
	if r.ByUUID() {
		return r.UUID.String()
	}
	return fmt.Sprintf("%d", r.ID)
}

// AccessControl is one grant of a user on a resource.
type AccessControl struct {
	entity.Identity
	entity.Timestamps
	UserID       int64        `db:"user_id" json:"user_id" validate:"required"`
	ResourceID   int64        `db:"resource_id" json:"resource_id"`
	ResourceUUID *id.ID       `db:"resource_uuid" json:"resource_uuid,omitempty"`
	ResourceType ResourceType `db:"resource_type" json:"resource_type" validate:"required"`
	Permission   Permission   `db:"permission" json:"permission" validate:"required"`
}
