package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"docchat/internal/core/apperror"
	"docchat/internal/core/id"
	"docchat/internal/core/tx"
	"docchat/internal/domain"
	"docchat/internal/domain/access"
	"docchat/internal/domain/query"
	"docchat/pkg/logger"
)

// IngestTask is the queue task name the worker consumes.
const IngestTask = "document.ingest"

// Storage is the object store holding document files. Every method reports
// failure, including an unreachable store, with a false result.
type Storage interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) bool
	Download(ctx context.Context, key string) ([]byte, bool)
	Delete(ctx context.Context, key string) bool
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, bool)
}

// Tasks enqueues background work. An empty task ID means nothing was queued.
type Tasks interface {
	Enqueue(ctx context.Context, name string, payload map[string]any) string
}

// Upload is a file submitted for a project.
type Upload struct {
	ProjectID   int64
	Title       string
	Description *string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Service provides gated document CRUD backed by the object store.
type Service struct {
	*domain.Service[Document]
	repo    domain.Repository[Document]
	storage Storage
	tasks   Tasks
	log     *logger.Logger
}

// NewService creates a document service. tasks may be nil; uploads are then
// not ingested.
func NewService(repo domain.Repository[Document], gate *access.Gate, txm tx.Manager, storage Storage, tasks Tasks, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	base := domain.NewService(domain.ServiceConfig[Document]{
		Repo:      repo,
		Gate:      gate,
		TxManager: txm,
		Resource:  access.ResourceDocument,
		Parent: &domain.ParentLink[Document]{
			Resource: access.ResourceProject,
			ID:       func(d *Document) int64 { return d.ProjectID },
		},
		Logger: log,
	})

	svc := &Service{
		Service: base,
		repo:    repo,
		storage: storage,
		tasks:   tasks,
		log:     log.WithComponent("document"),
	}
	base.Hooks().On(domain.BeforeCreate, svc.prepareForCreate)
	base.Hooks().On(domain.AfterPurge, svc.removeObject)
	base.UpdateHooks().On(domain.BeforeUpdate, svc.prepareForUpdate)
	return svc
}

func (s *Service) prepareForCreate(_ context.Context, d *Document) error {
	d.Title = strings.TrimSpace(d.Title)
	if d.FileType == "" {
		d.FileType = FileTypeOf(d.FilePath)
	}
	if d.MetaInfo != nil && !gjson.Valid(*d.MetaInfo) {
		return apperror.NewValidation("meta_info must be valid JSON").WithDetail("field", "meta_info")
	}
	return nil
}

func (s *Service) prepareForUpdate(_ context.Context, c domain.Change[Document]) error {
	for _, col := range []string{"project_id", "file_path"} {
		if _, ok := c.Data[col]; ok {
			return apperror.NewValidation("document location is fixed").WithDetail("field", col)
		}
	}
	return nil
}

func (s *Service) removeObject(ctx context.Context, d *Document) error {
	if s.storage == nil || !s.storage.Delete(ctx, d.FilePath) {
		return fmt.Errorf("object %s not removed", d.FilePath)
	}
	return nil
}

// objectKey places files under their project with a collision-free name.
func objectKey(projectID int64, fileName string) string {
	return fmt.Sprintf("projects/%d/%s%s", projectID, id.New(), strings.ToLower(filepath.Ext(fileName)))
}

// Upload stores the file, registers the document with an owner grant and
// queues ingestion. The object is removed again when registration fails.
func (s *Service) Upload(ctx context.Context, u Upload) (*Document, error) {
	doc := &Document{
		Title:       u.Title,
		Description: u.Description,
		ProjectID:   u.ProjectID,
		FileType:    FileTypeOf(u.FileName),
		FilePath:    objectKey(u.ProjectID, u.FileName),
	}
	if doc.Title == "" {
		doc.Title = u.FileName
	}
	if err := s.AuthorizeParent(ctx, doc); err != nil {
		return nil, err
	}

	if u.Size > 0 {
		doc.FileSize = &u.Size
	}
	if err := doc.SetMeta("original_name", u.FileName); err != nil {
		return nil, err
	}
	if err := doc.SetMeta("content_type", u.ContentType); err != nil {
		return nil, err
	}

	log := s.log.WithContext(ctx)
	if s.storage == nil || !s.storage.Upload(ctx, doc.FilePath, u.Body, u.Size, u.ContentType) {
		return nil, apperror.NewUnavailable("object storage")
	}

	created, err := s.Create(ctx, doc)
	if err != nil {
		if !s.storage.Delete(ctx, doc.FilePath) {
			log.Warnw("orphaned object after failed registration", "key", doc.FilePath)
		}
		return nil, err
	}

	if s.tasks == nil {
		return created, nil
	}
	taskID := s.tasks.Enqueue(ctx, IngestTask, map[string]any{
		"document_id": created.ID,
		"file_path":   created.FilePath,
	})
	if taskID == "" {
		log.Warnw("ingest not queued", "document_id", created.ID)
	} else {
		log.Infow("ingest queued", "document_id", created.ID, "task_id", taskID)
	}
	return created, nil
}

// DownloadURL returns a temporary link to the document's file.
func (s *Service) DownloadURL(ctx context.Context, documentID int64, expiry time.Duration) (string, error) {
	doc, err := s.Get(ctx, documentID, nil)
	if err != nil {
		return "", err
	}
	if s.storage == nil {
		return "", apperror.NewUnavailable("object storage")
	}
	url, ok := s.storage.PresignedURL(ctx, doc.FilePath, expiry)
	if !ok {
		return "", apperror.NewUnavailable("object storage")
	}
	return url, nil
}

// ListByProject returns the accessible documents of a project, newest first.
func (s *Service) ListByProject(ctx context.Context, projectID int64, limit, offset int) (domain.ListResult[Document], error) {
	cfg := query.New().
		Where("project_id", projectID).
		Where("is_deleted", false).
		OrderBy(query.Desc, "created_at").
		Page(limit, offset)
	return s.List(ctx, cfg)
}

// Ingest reads a stored file and records its size and content statistics.
// It runs on behalf of the system, outside any caller's grants.
func (s *Service) Ingest(ctx context.Context, documentID int64) (*Document, error) {
	doc, err := s.repo.Get(ctx, documentID, nil)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, apperror.NewNotFound("document", documentID)
	}
	if s.storage == nil {
		return nil, apperror.NewUnavailable("object storage")
	}
	data, ok := s.storage.Download(ctx, doc.FilePath)
	if !ok {
		return nil, apperror.NewUnavailable("object storage")
	}

	size := int64(len(data))
	doc.FileSize = &size
	if err := analyze(doc, data); err != nil {
		return nil, err
	}
	if err := doc.SetMeta("ingested_at", time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	changes := map[string]any{
		"file_size": size,
		"meta_info": *doc.MetaInfo,
	}
	if doc.PageCount != nil {
		changes["page_count"] = *doc.PageCount
	}
	cfg := query.ByID(documentID)
	cfg.ReturnData = false
	if _, err := s.repo.Update(ctx, changes, cfg); err != nil {
		return nil, fmt.Errorf("record ingest of document %d: %w", documentID, err)
	}

	s.log.WithContext(ctx).Infow("document ingested", "document_id", documentID, "bytes", size)
	return doc, nil
}

var (
	pdfPage  = []byte("/Type /Page")
	pdfPages = []byte("/Type /Pages")
)

// analyze fills the content statistics the file type allows.
func analyze(doc *Document, data []byte) error {
	switch {
	case doc.FileType == TypePDF:
		pages := bytes.Count(data, pdfPage) - bytes.Count(data, pdfPages)
		if pages > 0 {
			doc.PageCount = &pages
		}
	case doc.FileType.Textual():
		text := string(data)
		if err := doc.SetMeta("line_count", strings.Count(text, "\n")+1); err != nil {
			return err
		}
		if err := doc.SetMeta("word_count", len(strings.Fields(text))); err != nil {
			return err
		}
		if doc.FileType == TypeJSON {
			return doc.SetMeta("valid_json", gjson.ValidBytes(data))
		}
	}
	return nil
}
