package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/core/apperror"
	"docchat/internal/domain/access"
	"docchat/internal/domain/domaintest"
	"docchat/internal/domain/query"
)

const projectID int64 = 10

type fixture struct {
	sessions *SessionService
	messages *MessageService
	gate     *access.Gate
	grants   *domaintest.MemRepo[access.AccessControl]
	locks    *lockingSessions
}

// lockingSessions records the row locks taken on sessions.
type lockingSessions struct {
	*domaintest.MemRepo[Session]
	locked []int64
}

func (r *lockingSessions) Get(ctx context.Context, id any, cfg *query.Config) (*Session, error) {
	if cfg != nil && cfg.Lock && domaintest.InTransaction(ctx) {
		r.locked = append(r.locked, id.(int64))
	}
	return r.MemRepo.Get(ctx, id, cfg)
}

// newFixture gives user 1 access to projectID.
func newFixture(t *testing.T) fixture {
	t.Helper()
	gate, grants := domaintest.Gate()
	txm := &domaintest.TxManager{}
	messages := domaintest.NewMemRepo[Message](MessagesTable)
	sessions := domaintest.NewMemRepo[Session](SessionsTable).WithLoader(MessagesRelation, func(items []Session) error {
		for i := range items {
			ms, err := messages.GetAll(context.Background(), query.New().
				Where("chat_session_id", items[i].ID).
				Where("is_deleted", false).
				OrderBy(query.Asc, "sequence_number").
				Page(0, 0))
			if err != nil {
				return err
			}
			items[i].Messages = ms
		}
		return nil
	})
	locks := &lockingSessions{MemRepo: sessions}
	f := fixture{
		sessions: NewSessionService(sessions, gate, txm, nil),
		messages: NewMessageService(messages, locks, gate, txm, nil),
		gate:     gate,
		grants:   grants,
		locks:    locks,
	}
	_, err := gate.Grant(context.Background(), 1, access.Ref{ID: projectID}, access.ResourceProject, access.PermissionOwner)
	require.NoError(t, err)
	return f
}

func TestSessionService_Create(t *testing.T) {
	f := newFixture(t)

	s, err := f.sessions.Create(domaintest.AsUser(1), &Session{Title: " Kickoff ", ProjectID: projectID})
	require.NoError(t, err)
	assert.Equal(t, "Kickoff", s.Title)

	ok, err := f.gate.Check(context.Background(), 1, access.RefOf(*s), access.ResourceChatSession)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.sessions.Create(domaintest.AsUser(1), &Session{Title: "Kickoff", ProjectID: projectID})
	assert.True(t, apperror.IsDuplicate(err))

	_, err = f.sessions.Create(domaintest.AsUser(2), &Session{Title: "Intruder", ProjectID: projectID})
	assert.True(t, apperror.IsNotFound(err), "no access to the project")

	_, err = f.sessions.Create(domaintest.AsUser(1), &Session{Title: "Elsewhere", ProjectID: 99})
	assert.True(t, apperror.IsNotFound(err))
}

func TestSessionService_UpdateAndList(t *testing.T) {
	f := newFixture(t)
	ctx := domaintest.AsUser(1)

	a, err := f.sessions.Create(ctx, &Session{Title: "a", ProjectID: projectID})
	require.NoError(t, err)
	_, err = f.sessions.Create(ctx, &Session{Title: "b", ProjectID: projectID})
	require.NoError(t, err)

	_, err = f.sessions.Update(ctx, a.ID, map[string]any{"title": "b"})
	assert.True(t, apperror.IsDuplicate(err))

	_, err = f.sessions.Update(ctx, a.ID, map[string]any{"project_id": int64(11)})
	assert.True(t, apperror.IsValidation(err))

	renamed, err := f.sessions.Update(ctx, a.ID, map[string]any{"title": "c"})
	require.NoError(t, err)
	assert.Equal(t, "c", renamed.Title)

	res, err := f.sessions.ListByProject(ctx, projectID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.TotalCount)

	res, err = f.sessions.ListByProject(domaintest.AsUser(2), projectID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
}

func TestMessageService_Sequence(t *testing.T) {
	f := newFixture(t)
	ctx := domaintest.AsUser(1)

	s, err := f.sessions.Create(ctx, &Session{Title: "s", ProjectID: projectID})
	require.NoError(t, err)

	for i, role := range []Role{RoleUser, RoleBot, RoleUser} {
		m, err := f.messages.Create(ctx, &Message{Content: "hi", Role: role, ModelName: "gpt", ChatSessionID: s.ID})
		require.NoError(t, err)
		assert.Equal(t, i+1, m.SequenceNumber)
	}

	history, err := f.messages.History(ctx, s.ID, 2, 1)
	require.NoError(t, err)
	require.Len(t, history.Items, 2)
	assert.Equal(t, 2, history.Items[0].SequenceNumber)
	assert.Equal(t, RoleBot, history.Items[0].Role)
	assert.Equal(t, int64(3), history.TotalCount)

	_, err = f.messages.Update(ctx, history.Items[0].ID, map[string]any{"sequence_number": 9})
	assert.True(t, apperror.IsValidation(err))
}

func TestMessageService_SequenceTakenUnderSessionLock(t *testing.T) {
	f := newFixture(t)
	ctx := domaintest.AsUser(1)

	s, err := f.sessions.Create(ctx, &Session{Title: "s", ProjectID: projectID})
	require.NoError(t, err)

	for range 2 {
		_, err := f.messages.Create(ctx, &Message{Content: "hi", Role: RoleUser, ModelName: "gpt", ChatSessionID: s.ID})
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{s.ID, s.ID}, f.locks.locked)

	// Numbers keep counting past deleted messages.
	history, err := f.messages.History(ctx, s.ID, 10, 0)
	require.NoError(t, err)
	_, err = f.messages.Delete(ctx, history.Items[1].ID)
	require.NoError(t, err)

	m, err := f.messages.Create(ctx, &Message{Content: "again", Role: RoleUser, ModelName: "gpt", ChatSessionID: s.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, m.SequenceNumber)

	given, err := f.messages.Create(ctx, &Message{Content: "x", Role: RoleBot, ModelName: "gpt", ChatSessionID: s.ID, SequenceNumber: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, given.SequenceNumber)
	assert.Len(t, f.locks.locked, 3)
}

func TestSessionService_DeleteIsSoft(t *testing.T) {
	f := newFixture(t)
	ctx := domaintest.AsUser(1)

	s, err := f.sessions.Create(ctx, &Session{Title: "old", ProjectID: projectID})
	require.NoError(t, err)

	_, err = f.sessions.Delete(ctx, s.ID)
	require.NoError(t, err)

	_, err = f.sessions.Get(domaintest.AsSuperuser(9), s.ID, nil)
	assert.True(t, apperror.IsNotFound(err))

	res, err := f.sessions.ListByProject(domaintest.AsSuperuser(9), projectID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Items)

	// The title is free again once the old session is gone.
	_, err = f.sessions.Create(ctx, &Session{Title: "old", ProjectID: projectID})
	assert.NoError(t, err)
}

func TestMessageService_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := domaintest.AsUser(1)

	s, err := f.sessions.Create(ctx, &Session{Title: "s", ProjectID: projectID})
	require.NoError(t, err)

	_, err = f.messages.Create(ctx, &Message{Content: "x", Role: "system", ModelName: "gpt", ChatSessionID: s.ID})
	assert.True(t, apperror.IsValidation(err))

	_, err = f.messages.Create(domaintest.AsUser(2), &Message{Content: "x", Role: RoleUser, ModelName: "gpt", ChatSessionID: s.ID})
	assert.True(t, apperror.IsNotFound(err))
}

func TestSessionService_GetWithMessages(t *testing.T) {
	f := newFixture(t)
	ctx := domaintest.AsUser(1)

	s, err := f.sessions.Create(ctx, &Session{Title: "s", ProjectID: projectID})
	require.NoError(t, err)
	for _, content := range []string{"question", "answer"} {
		_, err := f.messages.Create(ctx, &Message{Content: content, Role: RoleUser, ModelName: "gpt", ChatSessionID: s.ID})
		require.NoError(t, err)
	}

	got, err := f.sessions.GetWithMessages(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "question", got.Messages[0].Content)
	assert.Equal(t, 2, got.Messages[1].SequenceNumber)

	plain, err := f.sessions.Get(ctx, s.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, plain.Messages)

	_, err = f.sessions.GetWithMessages(domaintest.AsUser(2), s.ID)
	assert.True(t, apperror.IsNotFound(err))
}
