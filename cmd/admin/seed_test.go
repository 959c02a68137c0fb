package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat/internal/core/schema"
	"docchat/internal/domain/chat"
	"docchat/internal/domain/query"
)

func TestSeedPlan(t *testing.T) {
	plan := seedPlan(42, 2, 2, 1, 3)
	require.Len(t, plan, 2)

	assert.Equal(t, plan, seedPlan(42, 2, 2, 1, 3), "deterministic for a seed")
	assert.NotEqual(t, plan[0].Account.Email, plan[1].Account.Email)

	for _, su := range plan {
		require.NoError(t, schema.Check(su.Account))
		require.Len(t, su.Projects, 2)
		assert.NotEqual(t, su.Projects[0].Project.Name, su.Projects[1].Project.Name)

		msgs := su.Projects[0].Sessions[0].Messages
		require.Len(t, msgs, 3)
		assert.Equal(t, []chat.Role{chat.RoleUser, chat.RoleBot, chat.RoleUser},
			[]chat.Role{msgs[0].Role, msgs[1].Role, msgs[2].Role})
	}
}

func TestRootCommand_Tree(t *testing.T) {
	root := newRootCommand()
	for _, path := range [][]string{
		{"tier", "create"},
		{"tier", "list"},
		{"ratelimit", "create"},
		{"user", "create"},
		{"user", "deactivate"},
		{"token"},
		{"grant"},
		{"seed"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.NotNil(t, cmd.RunE, path)
	}
}

func TestListQuery(t *testing.T) {
	cfg, err := listQuery("")
	require.NoError(t, err)
	assert.Nil(t, cfg)

	cfg, err = listQuery(`{"filters": {"name": {"ilike": "pro"}}, "sort": {"desc": "name"}, "limit": 5}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ilike": "pro"}, cfg.Filters["name"])
	assert.Equal(t, []string{"name"}, cfg.Sort[query.Desc])
	assert.Equal(t, 5, cfg.Limit)

	_, err = listQuery(`{"filterz": {}}`)
	assert.Error(t, err)
}
