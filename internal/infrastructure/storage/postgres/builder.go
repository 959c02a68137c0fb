package postgres

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/samber/lo"

	"docchat/internal/domain/query"
)

// psql is the statement builder with PostgreSQL placeholders.
var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// builder turns a query.Config into statements against one table.
type builder struct {
	table      string
	cols       []string
	columns    map[string]struct{}
	selectCols []string
	joins      map[string]string // relation path -> LEFT JOIN clause
}

func newBuilder(table string, columns []string) *builder {
	return &builder{
		table:   table,
		cols:    columns,
		columns: lo.SliceToMap(columns, func(c string) (string, struct{}) { return c, struct{}{} }),
		selectCols: lo.Map(columns, func(c string, _ int) string {
			return table + "." + c
		}),
		joins: map[string]string{},
	}
}

// column resolves a field name to a qualified column. Names that already
// carry a table qualifier belong to joined tables and pass through.
func (b *builder) column(field string) (string, error) {
	if strings.Contains(field, ".") {
		return field, nil
	}
	if _, ok := b.columns[field]; !ok {
		return "", fmt.Errorf("%w: %s.%s", query.ErrUnknownField, b.table, field)
	}
	return b.table + "." + field, nil
}

// reserved lists column names that must be quoted where they appear bare.
var reserved = map[string]struct{}{
	"limit": {}, "offset": {}, "order": {}, "group": {}, "user": {}, "default": {},
}

// ident quotes name when it is a reserved word.
func ident(name string) string {
	if _, ok := reserved[name]; ok {
		return `"` + name + `"`
	}
	return name
}

// quoted returns data keyed by quoted identifiers.
func quoted(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[ident(k)] = v
	}
	return out
}

func (b *builder) hasColumn(name string) bool {
	_, ok := b.columns[name]
	return ok
}

// predicate builds the condition for one resolved filter.
func predicate(col string, op query.Operator, value any) (squirrel.Sqlizer, error) {
	switch op {
	case query.OpEq:
		if value == nil {
			return squirrel.Expr(col + " IS NULL"), nil
		}
		return squirrel.Expr(col+" = ?", value), nil
	case query.OpNeq:
		if value == nil {
			return squirrel.Expr(col + " IS NOT NULL"), nil
		}
		return squirrel.Expr(col+" <> ?", value), nil
	case query.OpGt:
		return squirrel.Gt{col: value}, nil
	case query.OpLt:
		return squirrel.Lt{col: value}, nil
	case query.OpGte:
		return squirrel.GtOrEq{col: value}, nil
	case query.OpLte:
		return squirrel.LtOrEq{col: value}, nil
	case query.OpLike:
		return squirrel.Like{col: fmt.Sprintf("%%%v%%", value)}, nil
	case query.OpILike:
		return squirrel.ILike{col: fmt.Sprintf("%%%v%%", value)}, nil
	case query.OpIn, query.OpNotIn:
		items, err := query.Operands(value)
		if err != nil {
			return nil, fmt.Errorf("%s on %s: %w", op, col, err)
		}
		if op == query.OpIn {
			return squirrel.Eq{col: items}, nil
		}
		return squirrel.NotEq{col: items}, nil
	case query.OpBetween:
		bounds, err := query.Operands(value)
		if err != nil {
			return nil, fmt.Errorf("between on %s: %w", col, err)
		}
		if len(bounds) != 2 {
			return nil, fmt.Errorf("%w: %s got %d", query.ErrBetweenArity, col, len(bounds))
		}
		return squirrel.Expr(col+" BETWEEN ? AND ?", bounds[0], bounds[1]), nil
	case query.OpIsNull:
		return squirrel.Expr(col + " IS NULL"), nil
	case query.OpIsNotNull:
		return squirrel.Expr(col + " IS NOT NULL"), nil
	default:
		return nil, fmt.Errorf("%w: operator %q", query.ErrInvalidOperand, op)
	}
}

// conditions resolves every filter in sorted field order. wrap turns the
// qualified column into the compared expression (COUNT(col) for having).
func (b *builder) conditions(filters query.Filters, wrap func(string) string) ([]squirrel.Sqlizer, error) {
	out := make([]squirrel.Sqlizer, 0, len(filters))
	for _, field := range filters.Fields() {
		col, err := b.column(field)
		if err != nil {
			return nil, err
		}
		if wrap != nil {
			col = wrap(col)
		}
		op, value := query.Resolve(filters[field])
		cond, err := predicate(col, op, value)
		if err != nil {
			return nil, err
		}
		out = append(out, cond)
	}
	return out, nil
}

func countOf(col string) string { return "COUNT(" + col + ")" }

// filtered applies joins and both filter groups (steps 2 to 4).
func (b *builder) filtered(q squirrel.SelectBuilder, cfg *query.Config) (squirrel.SelectBuilder, error) {
	targets := lo.Keys(cfg.Joins)
	sort.Strings(targets)
	for _, target := range targets {
		q = q.Join(target + " ON " + cfg.Joins[target])
	}

	and, err := b.conditions(cfg.Filters, nil)
	if err != nil {
		return q, err
	}
	if len(and) > 0 {
		q = q.Where(squirrel.And(and))
	}

	or, err := b.conditions(cfg.OrFilters, nil)
	if err != nil {
		return q, err
	}
	if len(or) > 0 {
		q = q.Where(squirrel.Or(or))
	}
	return q, nil
}

// grouped applies group by and having (steps 7 and 8).
func (b *builder) grouped(q squirrel.SelectBuilder, cfg *query.Config) (squirrel.SelectBuilder, error) {
	if len(cfg.GroupBy) > 0 {
		cols := make([]string, 0, len(cfg.GroupBy))
		for _, field := range cfg.GroupBy {
			col, err := b.column(field)
			if err != nil {
				return q, err
			}
			cols = append(cols, col)
		}
		q = q.GroupBy(cols...)
	}

	having, err := b.conditions(cfg.Having, countOf)
	if err != nil {
		return q, err
	}
	if len(having) > 0 {
		q = q.Having(squirrel.And(having))
	}
	return q, nil
}

func (b *builder) sorted(q squirrel.SelectBuilder, cfg *query.Config) (squirrel.SelectBuilder, error) {
	for _, d := range cfg.Directions() {
		for _, field := range cfg.Sort[d] {
			col, err := b.column(field)
			if err != nil {
				return q, err
			}
			q = q.OrderBy(col + " " + strings.ToUpper(string(d)))
		}
	}
	return q, nil
}

func paged(q squirrel.SelectBuilder, cfg *query.Config) squirrel.SelectBuilder {
	if cfg.Offset > 0 {
		q = q.Offset(uint64(cfg.Offset))
	}
	if cfg.Limit > 0 {
		q = q.Limit(uint64(cfg.Limit))
	}
	return q
}

// eagerJoins returns the LEFT JOIN clauses for dotted relation paths.
func (b *builder) eagerJoins(cfg *query.Config) ([]string, error) {
	if !cfg.LoadRelations {
		return nil, nil
	}
	var clauses []string
	for _, path := range cfg.Fields {
		if !strings.Contains(path, ".") {
			continue
		}
		segments := strings.Split(path, ".")
		for i := range segments {
			prefix := strings.Join(segments[:i+1], ".")
			clause, ok := b.joins[prefix]
			if !ok {
				return nil, fmt.Errorf("%w: %s", query.ErrUnknownRelation, prefix)
			}
			if !lo.Contains(clauses, clause) {
				clauses = append(clauses, clause)
			}
		}
	}
	return clauses, nil
}

// selectQuery builds the data-returning statement in the fixed order:
// joins, filters, or-filters, sort, eager joins, group by, having, paging,
// then the row lock.
func (b *builder) selectQuery(cfg *query.Config) (squirrel.SelectBuilder, error) {
	q := psql.Select(b.selectCols...).From(b.table)

	q, err := b.filtered(q, cfg)
	if err != nil {
		return q, err
	}
	if q, err = b.sorted(q, cfg); err != nil {
		return q, err
	}

	clauses, err := b.eagerJoins(cfg)
	if err != nil {
		return q, err
	}
	for _, clause := range clauses {
		q = q.LeftJoin(clause)
	}
	// One row per record even when a joined relation has several matches.
	if len(clauses) > 0 && len(cfg.GroupBy) == 0 && len(cfg.Having) == 0 {
		if cfg.Lock {
			return q, fmt.Errorf("%w: row locks cannot be combined with joined relations", query.ErrInvalidOperand)
		}
		q = q.GroupBy(b.table + ".id")
	}

	if q, err = b.grouped(q, cfg); err != nil {
		return q, err
	}
	q = paged(q, cfg)
	if cfg.Lock {
		q = q.Suffix("FOR UPDATE")
	}
	return q, nil
}

// countQuery counts the rows selectQuery would return without paging.
// Grouped configs count groups through a derived table.
func (b *builder) countQuery(cfg *query.Config) (squirrel.SelectBuilder, error) {
	if len(cfg.GroupBy) == 0 {
		q, err := b.filtered(psql.Select("COUNT(*)").From(b.table), cfg)
		if err != nil {
			return q, err
		}
		return b.grouped(q, cfg)
	}

	inner, err := b.filtered(psql.Select("1").From(b.table), cfg)
	if err != nil {
		return inner, err
	}
	if inner, err = b.grouped(inner, cfg); err != nil {
		return inner, err
	}
	return psql.Select("COUNT(*)").FromSelect(inner, "sub"), nil
}

// scope returns the WHERE condition selecting the rows a write touches:
// every row matching the filters. Sort and paging shape reads only. Joined
// filters are applied through an id subquery.
func (b *builder) scope(cfg *query.Config) (squirrel.Sqlizer, error) {
	if len(cfg.GroupBy) > 0 || len(cfg.Having) > 0 {
		return nil, fmt.Errorf("%w: group by and having do not apply to writes on %s", query.ErrInvalidOperand, b.table)
	}

	if len(cfg.Joins) > 0 {
		pk := b.table + ".id"
		sub, err := b.filtered(squirrel.Select(pk).From(b.table), cfg)
		if err != nil {
			return nil, err
		}
		return squirrel.Expr(pk+" IN (?)", sub), nil
	}

	var parts squirrel.And
	and, err := b.conditions(cfg.Filters, nil)
	if err != nil {
		return nil, err
	}
	parts = append(parts, and...)
	or, err := b.conditions(cfg.OrFilters, nil)
	if err != nil {
		return nil, err
	}
	if len(or) > 0 {
		parts = append(parts, squirrel.Or(or))
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return parts, nil
}

func (b *builder) updateQuery(data map[string]any, cfg *query.Config) (squirrel.UpdateBuilder, error) {
	q := psql.Update(b.table)
	for _, col := range lo.Keys(data) {
		if !b.hasColumn(col) {
			return q, fmt.Errorf("%w: %s.%s", query.ErrUnknownField, b.table, col)
		}
	}
	q = q.SetMap(quoted(data))
	if _, explicit := data["updated_at"]; !explicit && b.hasColumn("updated_at") {
		q = q.Set("updated_at", squirrel.Expr("now()"))
	}

	where, err := b.scope(cfg)
	if err != nil {
		return q, err
	}
	if where != nil {
		q = q.Where(where)
	}
	return q, nil
}

func (b *builder) deleteQuery(cfg *query.Config) (squirrel.DeleteBuilder, error) {
	q := psql.Delete(b.table)
	where, err := b.scope(cfg)
	if err != nil {
		return q, err
	}
	if where != nil {
		q = q.Where(where)
	}
	return q, nil
}

func (b *builder) insertQuery(data map[string]any, returning bool) (squirrel.InsertBuilder, error) {
	q := psql.Insert(b.table)
	for _, col := range lo.Keys(data) {
		if !b.hasColumn(col) {
			return q, fmt.Errorf("%w: %s.%s", query.ErrUnknownField, b.table, col)
		}
	}
	if len(data) == 0 {
		return q, fmt.Errorf("%w: empty insert into %s", query.ErrInvalidOperand, b.table)
	}
	q = q.SetMap(quoted(data))
	if returning {
		q = q.Suffix("RETURNING " + strings.Join(lo.Map(b.cols, func(c string, _ int) string { return ident(c) }), ", "))
	}
	return q, nil
}
