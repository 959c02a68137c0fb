package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, 100, cfg.Limit)
	assert.Equal(t, 0, cfg.Offset)
	assert.True(t, cfg.ReturnData)
	assert.False(t, cfg.LoadRelations)
	assert.False(t, cfg.Single())
}

func TestResolve(t *testing.T) {
	unknown := map[string]any{"greater": 5}
	multi := map[string]any{"gte": 1, "lte": 9}

	tests := []struct {
		name    string
		value   any
		wantOp  Operator
		wantArg any
	}{
		{"literal", 18, OpEq, 18},
		{"nil literal", nil, OpEq, nil},
		{"operator map", map[string]any{"gte": 18}, OpGte, 18},
		{"typed operator map", map[Operator]any{OpLike: "ab"}, OpLike, "ab"},
		{"constructor", Between(1, 2), OpBetween, []any{1, 2}},
		{"unknown operator falls back to eq on whole value", unknown, OpEq, unknown},
		{"multi-key map falls back to eq", multi, OpEq, multi},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, arg := Resolve(tt.value)
			assert.Equal(t, tt.wantOp, op)
			assert.Equal(t, tt.wantArg, arg)
		})
	}
}

func TestParseOperator(t *testing.T) {
	for _, name := range []string{"eq", "neq", "gt", "lt", "gte", "lte", "like", "ilike", "in", "not_in", "between", "is_null", "is_not_null"} {
		op, ok := ParseOperator(name)
		assert.True(t, ok, name)
		assert.Equal(t, Operator(name), op)
	}

	_, ok := ParseOperator("contains")
	assert.False(t, ok)
}

func TestOperands(t *testing.T) {
	got, err := Operands([]int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, got)

	got, err = Operands([2]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	_, err = Operands(5)
	assert.ErrorIs(t, err, ErrInvalidOperand)

	_, err = Operands(nil)
	assert.ErrorIs(t, err, ErrInvalidOperand)
}

func TestDecode_NormalizesScalars(t *testing.T) {
	cfg, err := Decode(map[string]any{
		"filters":  map[string]any{"age": map[string]any{"gte": 18}},
		"sort":     map[string]any{"desc": "created_at"},
		"fields":   "project",
		"group_by": "user_id",
		"limit":    10,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"created_at"}, cfg.Sort[Desc])
	assert.Equal(t, []string{"project"}, cfg.Fields)
	assert.Equal(t, []string{"user_id"}, cfg.GroupBy)
	assert.Equal(t, 10, cfg.Limit)
	assert.Equal(t, 0, cfg.Offset)
	assert.True(t, cfg.ReturnData)
}

func TestDecode_Empty(t *testing.T) {
	cfg, err := Decode(nil)
	require.NoError(t, err)
	assert.Equal(t, New(), cfg)
}

func TestDecode_RejectsUnknownKeysAndDirections(t *testing.T) {
	_, err := Decode(map[string]any{"filterz": map[string]any{}})
	assert.Error(t, err)

	_, err = Decode(map[string]any{"sort": map[string]any{"up": []string{"id"}}})
	assert.ErrorIs(t, err, ErrInvalidDirection)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"filters": {"name": "Proj1", "user_id": 7},
		"or_filters": {"title": {"ilike": "draft"}},
		"sort": {"asc": ["name"], "desc": "id"},
		"limit": 1,
		"return_data": false
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Proj1", cfg.Filters["name"])
	assert.Equal(t, float64(7), cfg.Filters["user_id"])
	op, arg := Resolve(cfg.OrFilters["title"])
	assert.Equal(t, OpILike, op)
	assert.Equal(t, "draft", arg)
	assert.Equal(t, []Direction{Asc, Desc}, cfg.Directions())
	assert.True(t, cfg.Single())
	assert.False(t, cfg.ReturnData)
}

func TestClone_IsIndependent(t *testing.T) {
	orig := New().Where("name", "a").OrderBy(Desc, "created_at").Join("projects", "projects.id = documents.project_id").Group("user_id")

	cp := orig.Clone()
	cp.Where("name", "b").OrderBy(Desc, "id")
	cp.Joins["users"] = "users.id = projects.user_id"
	cp.GroupBy[0] = "project_id"

	assert.Equal(t, "a", orig.Filters["name"])
	assert.Equal(t, []string{"created_at"}, orig.Sort[Desc])
	assert.Len(t, orig.Joins, 1)
	assert.Equal(t, []string{"user_id"}, orig.GroupBy)
}

func TestWithoutData(t *testing.T) {
	orig := New().Where("id", 1)
	cnt := orig.WithoutData()

	assert.False(t, cnt.ReturnData)
	assert.True(t, orig.ReturnData)
}

func TestFilters_FieldsSorted(t *testing.T) {
	f := Filters{"b": 1, "a": 2, "c": 3}
	assert.Equal(t, []string{"a", "b", "c"}, f.Fields())
}

func TestResult_List(t *testing.T) {
	var nilResult *Result[int]
	assert.Equal(t, []int{}, nilResult.List())

	one := 5
	assert.Equal(t, []int{5}, (&Result[int]{Single: true, Item: &one}).List())
	assert.True(t, (&Result[int]{Single: true}).Empty())
	assert.Equal(t, []int{}, (&Result[int]{}).List())
}

func TestForUpdate(t *testing.T) {
	cfg := ByID(3).ForUpdate()
	assert.True(t, cfg.Lock)
	assert.True(t, cfg.Clone().Lock)
	assert.NoError(t, cfg.Validate())

	assert.ErrorIs(t, New().Group("user_id").ForUpdate().Validate(), ErrInvalidOperand)

	_, err := Decode(map[string]any{"lock": true})
	assert.Error(t, err, "locks are not part of the decoded form")
}
