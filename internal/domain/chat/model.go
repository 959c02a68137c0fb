// Package chat provides chat sessions inside projects and the messages
// exchanged in them.
package chat

import (
	"docchat/internal/core/entity"
)

const (
	SessionsTable = "chat_sessions"
	MessagesTable = "chat_messages"
)

// Session is a conversation scoped to one project.
type Session struct {
	entity.Identity
	entity.UUIDMixin
	entity.Timestamps
	entity.SoftDelete

	Title       string  `db:"title" json:"title" validate:"required,max=255"`
	Description *string `db:"description" json:"description,omitempty"`
	Settings    *string `db:"settings" json:"settings,omitempty"`
	ProjectID   int64   `db:"project_id" json:"project_id" validate:"required"`

	// Messages is filled only when the "messages" relation is loaded.
	Messages []Message `db:"-" json:"messages,omitempty"`
}

// MessagesRelation is the eager-load path for a session's messages.
const MessagesRelation = "messages"

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one turn of a session. SequenceNumber orders messages within
// their session starting at 1.
type Message struct {
	entity.Identity
	entity.UUIDMixin
	entity.Timestamps
	entity.SoftDelete

	Content        string `db:"content" json:"content" validate:"required"`
	Role           Role   `db:"role" json:"role" validate:"required,oneof=user bot"`
	SequenceNumber int    `db:"sequence_number" json:"sequence_number" validate:"gte=1"`
	ModelName      string `db:"model_name" json:"model_name" validate:"required,max=50"`
	TokenCount     int    `db:"token_count" json:"token_count" validate:"gte=0"`
	ChatSessionID  int64  `db:"chat_session_id" json:"chat_session_id" validate:"required"`
}
