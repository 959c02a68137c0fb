package document

import (
	"context"

	"docchat/internal/core/apperror"
	"docchat/internal/core/types"
	"docchat/internal/domain"
	"docchat/internal/domain/access"
	"docchat/internal/domain/query"
)

// LinkService records and lists message citations. Links carry no grants of
// their own; access follows the message and the document.
type LinkService struct {
	links domain.Repository[Link]
	gate  *access.Gate
}

// NewLinkService creates a link service.
func NewLinkService(links domain.Repository[Link], gate *access.Gate) *LinkService {
	return &LinkService{links: links, gate: gate}
}

// Cite links a message to a document the caller can both access.
func (s *LinkService) Cite(ctx context.Context, l Link) (*Link, error) {
	if err := s.gate.Authorize(ctx, access.Ref{ID: l.MessageID}, access.ResourceChatMessage); err != nil {
		return nil, err
	}
	if err := s.gate.Authorize(ctx, access.Ref{ID: l.DocumentID}, access.ResourceDocument); err != nil {
		return nil, err
	}

	l.RelevanceScore = l.RelevanceScore.Round(types.ScorePlaces)
	if !types.ScoreInRange(l.RelevanceScore) {
		return nil, apperror.NewValidation("relevance score must be between 0 and 1").
			WithDetail("relevance_score", l.RelevanceScore.String())
	}

	exists, err := s.links.Exists(ctx, query.New().
		Where("message_id", l.MessageID).
		Where("document_id", l.DocumentID))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apperror.NewDuplicate("message_document", "document_id", l.DocumentID)
	}

	l.EnsureUUID()
	return s.links.Create(ctx, l, nil)
}

// ForMessage returns the documents a message cites, most relevant first.
func (s *LinkService) ForMessage(ctx context.Context, messageID int64) ([]Link, error) {
	if err := s.gate.Authorize(ctx, access.Ref{ID: messageID}, access.ResourceChatMessage); err != nil {
		return nil, err
	}
	return s.links.GetAll(ctx, query.New().
		Where("message_id", messageID).
		OrderBy(query.Desc, "relevance_score").
		Page(0, 0))
}

// ForDocument returns the citations of a document, most relevant first.
func (s *LinkService) ForDocument(ctx context.Context, documentID int64) ([]Link, error) {
	if err := s.gate.Authorize(ctx, access.Ref{ID: documentID}, access.ResourceDocument); err != nil {
		return nil, err
	}
	return s.links.GetAll(ctx, query.New().
		Where("document_id", documentID).
		OrderBy(query.Desc, "relevance_score").
		Page(0, 0))
}
