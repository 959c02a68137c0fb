// Package document provides documents uploaded into projects, their
// background ingestion and the links that cite them from chat messages.
package document

import (
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"docchat/internal/core/apperror"
	"docchat/internal/core/entity"
	"docchat/internal/core/types"
)

const (
	Table      = "documents"
	LinksTable = "message_documents"
)

// FileType classifies the stored file.
type FileType string

const (
	TypePDF      FileType = "pdf"
	TypeDOCX     FileType = "docx"
	TypeTXT      FileType = "txt"
	TypeMarkdown FileType = "markdown"
	TypeHTML     FileType = "html"
	TypeJSON     FileType = "json"
	TypeCSV      FileType = "csv"
	TypeExcel    FileType = "excel"
	TypeImage    FileType = "image"
	TypeAudio    FileType = "audio"
	TypeVideo    FileType = "video"
	TypeOther    FileType = "other"
)

var extensions = map[string]FileType{
	".pdf":  TypePDF,
	".docx": TypeDOCX,
	".doc":  TypeDOCX,
	".txt":  TypeTXT,
	".md":   TypeMarkdown,
	".html": TypeHTML,
	".htm":  TypeHTML,
	".json": TypeJSON,
	".csv":  TypeCSV,
	".xls":  TypeExcel,
	".xlsx": TypeExcel,
	".png":  TypeImage,
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".gif":  TypeImage,
	".mp3":  TypeAudio,
	".wav":  TypeAudio,
	".mp4":  TypeVideo,
	".mov":  TypeVideo,
}

// FileTypeOf guesses the type from a file name's extension.
func FileTypeOf(name string) FileType {
	if t, ok := extensions[strings.ToLower(filepath.Ext(name))]; ok {
		return t
	}
	return TypeOther
}

// Textual reports whether the file can be read as plain text.
func (t FileType) Textual() bool {
	switch t {
	case TypeTXT, TypeMarkdown, TypeHTML, TypeJSON, TypeCSV:
		return true
	}
	return false
}

// Document is a file stored in the object store and registered in a project.
type Document struct {
	entity.Identity
	entity.UUIDMixin
	entity.Timestamps
	entity.SoftDelete

	Title       string   `db:"title" json:"title" validate:"required,max=255"`
	FilePath    string   `db:"file_path" json:"file_path" validate:"required,max=255"`
	FileType    FileType `db:"file_type" json:"file_type" validate:"required,oneof=pdf docx txt markdown html json csv excel image audio video other"`
	ProjectID   int64    `db:"project_id" json:"project_id" validate:"required"`
	Description *string  `db:"description" json:"description,omitempty"`
	FileSize    *int64   `db:"file_size" json:"file_size,omitempty"`
	PageCount   *int     `db:"page_count" json:"page_count,omitempty"`

	// MetaInfo is a JSON object stored as text.
	MetaInfo *string `db:"meta_info" json:"meta_info,omitempty"`
}

// Meta reads one value from MetaInfo by gjson path.
func (d *Document) Meta(path string) gjson.Result {
	if d.MetaInfo == nil {
		return gjson.Result{}
	}
	return gjson.Get(*d.MetaInfo, path)
}

// SetMeta writes one value into MetaInfo.
func (d *Document) SetMeta(path string, value any) error {
	doc := "{}"
	if d.MetaInfo != nil {
		doc = *d.MetaInfo
	}
	out, err := sjson.Set(doc, path, value)
	if err != nil {
		return apperror.NewValidation("invalid meta_info path").WithCause(err)
	}
	d.MetaInfo = &out
	return nil
}

// Link records that a chat message cited a document.
type Link struct {
	entity.Identity
	entity.UUIDMixin
	entity.Timestamps
	entity.SoftDelete

	MessageID      int64       `db:"message_id" json:"message_id" validate:"required"`
	DocumentID     int64       `db:"document_id" json:"document_id" validate:"required"`
	RelevanceScore types.Score `db:"relevance_score" json:"relevance_score"`
	Context        string      `db:"context" json:"context" validate:"required"`
	PageNumber     *int        `db:"page_number" json:"page_number,omitempty" validate:"omitempty,gte=1"`
	Section        *string     `db:"section" json:"section,omitempty" validate:"omitempty,max=100"`
}
