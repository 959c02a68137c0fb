// Package project provides projects, the top-level resource users own.
// Chat sessions and documents live inside a project.
package project

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"docchat/internal/core/apperror"
	"docchat/internal/core/entity"
)

const Table = "projects"

// Project groups the documents and chat sessions of one user.
type Project struct {
	entity.Identity
	entity.UUIDMixin
	entity.Timestamps
	entity.SoftDelete

	Name        string `db:"name" json:"name" validate:"required,max=255"`
	Description string `db:"description" json:"description"`

	// Settings is a JSON object stored as text.
	Settings *string `db:"settings" json:"settings,omitempty"`

	UserID int64 `db:"user_id" json:"user_id" validate:"required"`
}

// Setting reads one value from Settings by gjson path.
func (p *Project) Setting(path string) gjson.Result {
	if p.Settings == nil {
		return gjson.Result{}
	}
	return gjson.Get(*p.Settings, path)
}

// SetSetting writes one value into Settings, creating the document if needed.
func (p *Project) SetSetting(path string, value any) error {
	doc := "{}"
	if p.Settings != nil {
		doc = *p.Settings
	}
	out, err := sjson.Set(doc, path, value)
	if err != nil {
		return apperror.NewValidation("invalid settings path").WithCause(err)
	}
	p.Settings = &out
	return nil
}

// ValidateSettings requires settings to be a JSON object when present.
func ValidateSettings(settings *string) error {
	if settings == nil {
		return nil
	}
	if !gjson.Valid(*settings) || !gjson.Parse(*settings).IsObject() {
		return apperror.NewValidation("settings must be a JSON object").WithDetail("field", "settings")
	}
	return nil
}
