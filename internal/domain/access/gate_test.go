package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/core/apperror"
	appctx "docchat/internal/core/context"
	"docchat/internal/core/entity"
	"docchat/internal/core/id"
	"docchat/internal/domain/query"
)

// memStore keeps grants in memory and understands equality filters only.
type memStore struct {
	grants []AccessControl
	nextID int64
}

func (m *memStore) matches(a AccessControl, cfg *query.Config) bool {
	for field, want := range cfg.Filters {
		switch field {
		case "user_id":
			if a.UserID != want.(int64) {
				return false
			}
		case "resource_id":
			if a.ResourceID != want.(int64) {
				return false
			}
		case "resource_uuid":
			if a.ResourceUUID == nil || *a.ResourceUUID != want.(id.ID) {
				return false
			}
		case "resource_type":
			if a.ResourceType != want.(ResourceType) {
				return false
			}
		}
	}
	return true
}

func (m *memStore) Create(_ context.Context, data any, _ *query.Config) (*AccessControl, error) {
	d := data.(map[string]any)
	m.nextID++
	a := AccessControl{
		Identity:     entity.Identity{ID: m.nextID},
		UserID:       d["user_id"].(int64),
		ResourceID:   d["resource_id"].(int64),
		ResourceType: d["resource_type"].(ResourceType),
		Permission:   d["permission"].(Permission),
	}
	if u, ok := d["resource_uuid"].(id.ID); ok {
		a.ResourceUUID = &u
	}
	m.grants = append(m.grants, a)
	return &a, nil
}

func (m *memStore) Exists(ctx context.Context, cfg *query.Config) (bool, error) {
	all, _ := m.GetAll(ctx, cfg)
	return len(all) > 0, nil
}

func (m *memStore) GetAll(_ context.Context, cfg *query.Config) ([]AccessControl, error) {
	out := []AccessControl{}
	for _, a := range m.grants {
		if m.matches(a, cfg) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, cfg *query.Config) ([]AccessControl, error) {
	var kept, removed []AccessControl
	for _, a := range m.grants {
		if m.matches(a, cfg) {
			removed = append(removed, a)
		} else {
			kept = append(kept, a)
		}
	}
	m.grants = kept
	return removed, nil
}

func withUser(userID int64, superuser bool) context.Context {
	return appctx.WithUser(context.Background(), &appctx.UserContext{UserID: userID, IsSuperuser: superuser})
}

func TestGate_GrantAndCheck(t *testing.T) {
	store := &memStore{}
	gate := NewGate(store, nil)
	ctx := context.Background()

	grant, err := gate.Grant(ctx, 1, Ref{ID: 10}, ResourceProject, "")
	require.NoError(t, err)
	assert.Equal(t, PermissionOwner, grant.Permission)

	ok, err := gate.Check(ctx, 1, Ref{ID: 10}, ResourceProject)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Check(ctx, 2, Ref{ID: 10}, ResourceProject)
	require.NoError(t, err)
	assert.False(t, ok)

	// Same numeric ID, different resource type.
	ok, err = gate.Check(ctx, 1, Ref{ID: 10}, ResourceDocument)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_CheckByUUID(t *testing.T) {
	store := &memStore{}
	gate := NewGate(store, nil)
	ctx := context.Background()
	uid := id.New()

	_, err := gate.Grant(ctx, 1, Ref{ID: 3, UUID: uid}, ResourceChatSession, PermissionViewer)
	require.NoError(t, err)

	ok, err := gate.Check(ctx, 1, Ref{UUID: uid}, ResourceChatSession)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = gate.Check(ctx, 1, Ref{UUID: id.New()}, ResourceChatSession)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_GrantRejectsUnknownValues(t *testing.T) {
	gate := NewGate(&memStore{}, nil)

	_, err := gate.Grant(context.Background(), 1, Ref{ID: 1}, "folder", PermissionOwner)
	assert.True(t, apperror.IsValidation(err))

	_, err = gate.Grant(context.Background(), 1, Ref{ID: 1}, ResourceProject, "admin")
	assert.True(t, apperror.IsValidation(err))
}

func TestGate_Revoke(t *testing.T) {
	store := &memStore{}
	gate := NewGate(store, nil)
	ctx := context.Background()

	for _, user := range []int64{1, 2} {
		_, err := gate.Grant(ctx, user, Ref{ID: 10}, ResourceProject, PermissionCollaborator)
		require.NoError(t, err)
	}
	_, err := gate.Grant(ctx, 1, Ref{ID: 11}, ResourceProject, PermissionOwner)
	require.NoError(t, err)

	require.NoError(t, gate.Revoke(ctx, Ref{ID: 10}, ResourceProject))

	for _, user := range []int64{1, 2} {
		ok, err := gate.Check(ctx, user, Ref{ID: 10}, ResourceProject)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	ok, err := gate.Check(ctx, 1, Ref{ID: 11}, ResourceProject)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGate_ResourceIDs(t *testing.T) {
	store := &memStore{}
	gate := NewGate(store, nil)
	ctx := context.Background()

	_, _ = gate.Grant(ctx, 1, Ref{ID: 10}, ResourceProject, PermissionOwner)
	_, _ = gate.Grant(ctx, 1, Ref{ID: 10}, ResourceProject, PermissionViewer)
	_, _ = gate.Grant(ctx, 1, Ref{ID: 12}, ResourceProject, PermissionOwner)
	_, _ = gate.Grant(ctx, 1, Ref{ID: 99}, ResourceDocument, PermissionOwner)
	_, _ = gate.Grant(ctx, 2, Ref{ID: 13}, ResourceProject, PermissionOwner)

	ids, err := gate.ResourceIDs(ctx, 1, ResourceProject)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 12}, ids)
}

func TestGate_Authorize(t *testing.T) {
	store := &memStore{}
	gate := NewGate(store, nil)
	_, err := gate.Grant(context.Background(), 1, Ref{ID: 10}, ResourceProject, PermissionOwner)
	require.NoError(t, err)

	t.Run("anonymous", func(t *testing.T) {
		err := gate.Authorize(context.Background(), Ref{ID: 10}, ResourceProject)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeUnauthorized, appErr.Code)
	})

	t.Run("granted", func(t *testing.T) {
		assert.NoError(t, gate.Authorize(withUser(1, false), Ref{ID: 10}, ResourceProject))
	})

	t.Run("denied looks like not found", func(t *testing.T) {
		err := gate.Authorize(withUser(2, false), Ref{ID: 10}, ResourceProject)
		assert.True(t, apperror.IsNotFound(err))
	})

	t.Run("superuser bypasses", func(t *testing.T) {
		assert.NoError(t, gate.Authorize(withUser(3, true), Ref{ID: 404}, ResourceProject))
	})
}
