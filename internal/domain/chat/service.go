package chat

import (
	"context"
	"strings"

	"docchat/internal/core/apperror"
	"docchat/internal/core/tx"
	"docchat/internal/domain"
	"docchat/internal/domain/access"
	"docchat/internal/domain/project"
	"docchat/internal/domain/query"
	"docchat/pkg/logger"
)

// SessionService provides gated session CRUD. Creating a session requires
// access to its project.
type SessionService struct {
	*domain.Service[Session]
	repo domain.Repository[Session]
}

// NewSessionService creates a session service.
func NewSessionService(repo domain.Repository[Session], gate *access.Gate, txm tx.Manager, log *logger.Logger) *SessionService {
	base := domain.NewService(domain.ServiceConfig[Session]{
		Repo:      repo,
		Gate:      gate,
		TxManager: txm,
		Resource:  access.ResourceChatSession,
		Parent: &domain.ParentLink[Session]{
			Resource: access.ResourceProject,
			ID:       func(s *Session) int64 { return s.ProjectID },
		},
		Logger: log,
	})

	svc := &SessionService{Service: base, repo: repo}
	base.Hooks().On(domain.BeforeCreate, svc.prepareForCreate)
	base.UpdateHooks().On(domain.BeforeUpdate, svc.prepareForUpdate)
	return svc
}

func (s *SessionService) prepareForCreate(ctx context.Context, cs *Session) error {
	cs.Title = strings.TrimSpace(cs.Title)
	if err := project.ValidateSettings(cs.Settings); err != nil {
		return err
	}
	return s.ensureUniqueTitle(ctx, cs.ProjectID, cs.Title, 0)
}

func (s *SessionService) prepareForUpdate(ctx context.Context, c domain.Change[Session]) error {
	if _, ok := c.Data["project_id"]; ok {
		return apperror.NewValidation("session cannot move between projects").WithDetail("field", "project_id")
	}
	if title, ok := c.Data["title"].(string); ok {
		title = strings.TrimSpace(title)
		c.Data["title"] = title
		if title != c.Current.Title {
			return s.ensureUniqueTitle(ctx, c.Current.ProjectID, title, c.Current.ID)
		}
	}
	return nil
}

func (s *SessionService) ensureUniqueTitle(ctx context.Context, projectID int64, title string, exclude int64) error {
	cfg := query.New().
		Where("project_id", projectID).
		Where("title", title).
		Where("is_deleted", false)
	if exclude > 0 {
		cfg.Where("id", query.Neq(exclude))
	}
	exists, err := s.repo.Exists(ctx, cfg)
	if err != nil {
		return err
	}
	if exists {
		return apperror.NewDuplicate("chat_session", "title", title)
	}
	return nil
}

// GetWithMessages returns the session with its messages in sequence order.
func (s *SessionService) GetWithMessages(ctx context.Context, id int64) (*Session, error) {
	return s.Get(ctx, id, query.New().Load(MessagesRelation))
}

// ListByProject returns the accessible sessions of a project, newest first.
func (s *SessionService) ListByProject(ctx context.Context, projectID int64, limit, offset int) (domain.ListResult[Session], error) {
	cfg := query.New().
		Where("project_id", projectID).
		Where("is_deleted", false).
		OrderBy(query.Desc, "created_at").
		Page(limit, offset)
	return s.List(ctx, cfg)
}

// MessageService provides gated message CRUD. Messages are appended to a
// session the caller can access and numbered in order.
type MessageService struct {
	*domain.Service[Message]
	repo     domain.Repository[Message]
	sessions domain.Repository[Session]
}

// NewMessageService creates a message service. sessions is used to lock the
// parent session while a message is numbered.
func NewMessageService(repo domain.Repository[Message], sessions domain.Repository[Session], gate *access.Gate, txm tx.Manager, log *logger.Logger) *MessageService {
	base := domain.NewService(domain.ServiceConfig[Message]{
		Repo:      repo,
		Gate:      gate,
		TxManager: txm,
		Resource:  access.ResourceChatMessage,
		Parent: &domain.ParentLink[Message]{
			Resource: access.ResourceChatSession,
			ID:       func(m *Message) int64 { return m.ChatSessionID },
		},
		Logger: log,
	})

	svc := &MessageService{Service: base, repo: repo, sessions: sessions}
	base.Hooks().On(domain.BeforeInsert, svc.assignSequence)
	base.UpdateHooks().On(domain.BeforeUpdate, svc.rejectReorder)
	return svc
}

// assignSequence numbers a message after the last one in its session unless
// the caller supplied a number. It runs in the create transaction and holds
// the session row lock until commit, so concurrent appends queue up.
func (s *MessageService) assignSequence(ctx context.Context, m *Message) error {
	if m.SequenceNumber > 0 {
		return nil
	}
	session, err := s.sessions.Get(ctx, m.ChatSessionID, query.New().ForUpdate())
	if err != nil {
		return err
	}
	if session == nil {
		return apperror.NewNotFound(string(access.ResourceChatSession), m.ChatSessionID)
	}

	last, err := s.repo.GetAll(ctx, query.New().
		Where("chat_session_id", m.ChatSessionID).
		OrderBy(query.Desc, "sequence_number").
		Page(1, 0))
	if err != nil {
		return err
	}
	m.SequenceNumber = 1
	if len(last) > 0 {
		m.SequenceNumber = last[0].SequenceNumber + 1
	}
	return nil
}

func (s *MessageService) rejectReorder(_ context.Context, c domain.Change[Message]) error {
	for _, col := range []string{"chat_session_id", "sequence_number"} {
		if _, ok := c.Data[col]; ok {
			return apperror.NewValidation("message position is fixed").WithDetail("field", col)
		}
	}
	return nil
}

// History returns the session's messages in sequence order.
func (s *MessageService) History(ctx context.Context, sessionID int64, limit, offset int) (domain.ListResult[Message], error) {
	cfg := query.New().
		Where("chat_session_id", sessionID).
		Where("is_deleted", false).
		OrderBy(query.Asc, "sequence_number").
		Page(limit, offset)
	return s.List(ctx, cfg)
}
