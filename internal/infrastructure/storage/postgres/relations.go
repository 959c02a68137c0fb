package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/samber/lo"

	"docchat/internal/core/schema"
)

// HasMany describes a one-to-many relation loaded in a single batched query.
type HasMany[P, C any] struct {
	// Table holds the child rows; ForeignKey references the parent id.
	Table      string
	ForeignKey string
	// OrderBy is applied inside each parent's group, e.g. "sequence_number ASC".
	OrderBy string

	ParentID func(p *P) int64
	ChildFK  func(c C) int64
	Set      func(p *P, children []C)
}

// Relation returns the batched loader for registration with WithRelation.
// Soft-deleted children are skipped.
func (h HasMany[P, C]) Relation() Relation[P] {
	return Relation[P]{Load: h.load}
}

func (h HasMany[P, C]) load(ctx context.Context, q Querier, items []P) error {
	ids := lo.Uniq(lo.Map(items, func(_ P, i int) int64 { return h.ParentID(&items[i]) }))

	sb := psql.Select(lo.Map(schema.Columns[C](), func(c string, _ int) string { return h.Table + "." + c })...).
		From(h.Table).
		Where(squirrel.Eq{h.Table + "." + h.ForeignKey: ids, h.Table + ".is_deleted": false}).
		OrderBy(h.Table + "." + h.ForeignKey)
	if h.OrderBy != "" {
		sb = sb.OrderBy(h.Table + "." + h.OrderBy)
	}
	sql, args, err := sb.ToSql()
	if err != nil {
		return fmt.Errorf("build %s relation: %w", h.Table, err)
	}

	var children []C
	if err := pgxscan.Select(ctx, q, &children, sql, args...); err != nil {
		return fmt.Errorf("select %s: %w", h.Table, err)
	}

	groups := lo.GroupBy(children, h.ChildFK)
	for i := range items {
		group := groups[h.ParentID(&items[i])]
		if group == nil {
			group = []C{}
		}
		h.Set(&items[i], group)
	}
	return nil
}
