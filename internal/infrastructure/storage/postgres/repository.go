package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"docchat/internal/core/apperror"
	"docchat/internal/core/schema"
	"docchat/internal/domain/query"
)

// Relation describes how a related record set is loaded for T.
//
// Join is the LEFT JOIN clause attached when the relation appears inside a
// dotted path (joined strategy); the select is then grouped by the primary
// key so a to-many join still yields one row per record. Load fills the
// relation for a fetched page with one extra query (batched strategy, used
// for plain paths).
type Relation[T any] struct {
	Join string
	Load func(ctx context.Context, q Querier, items []T) error
}

// Repository executes query.Config intents against one table and scans rows
// into T by db tag. The transaction in ctx, if any, is used for every call.
type Repository[T any] struct {
	db        QuerierProvider
	table     string
	b         *builder
	relations map[string]Relation[T]
}

// NewRepository creates a repository for table with the columns of T.
func NewRepository[T any](db QuerierProvider, table string) *Repository[T] {
	return &Repository[T]{
		db:        db,
		table:     table,
		b:         newBuilder(table, schema.Columns[T]()),
		relations: map[string]Relation[T]{},
	}
}

// WithRelation registers an eager-loadable relation path.
func (r *Repository[T]) WithRelation(path string, rel Relation[T]) *Repository[T] {
	r.relations[path] = rel
	if rel.Join != "" {
		r.b.joins[path] = rel.Join
	}
	return r
}

// Table returns the table name.
func (r *Repository[T]) Table() string { return r.table }

func (r *Repository[T]) querier(ctx context.Context) Querier {
	return r.db.GetQuerier(ctx)
}

func orDefault(cfg *query.Config) *query.Config {
	if cfg == nil {
		return query.New()
	}
	return cfg
}

// Execute runs the read described by cfg: a count when ReturnData is false,
// a single row (or nil) when Limit is 1, otherwise a list (never nil).
func (r *Repository[T]) Execute(ctx context.Context, cfg *query.Config) (*query.Result[T], error) {
	cfg = orDefault(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.ReturnData {
		n, err := r.count(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &query.Result[T]{Count: n}, nil
	}

	q, err := r.b.selectQuery(cfg)
	if err != nil {
		return nil, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select %s: %w", r.table, err)
	}

	items := make([]T, 0)
	if err := pgxscan.Select(ctx, r.querier(ctx), &items, sql, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", r.table, err)
	}

	for i := range items {
		if err := schema.Check(&items[i]); err != nil {
			return nil, fmt.Errorf("%s row %d: %w", r.table, i, err)
		}
	}

	if err := r.loadRelations(ctx, cfg, items); err != nil {
		return nil, err
	}

	res := &query.Result[T]{Single: cfg.Single()}
	if res.Single {
		if len(items) > 0 {
			res.Item = &items[0]
		}
		return res, nil
	}
	res.Items = items
	return res, nil
}

func (r *Repository[T]) loadRelations(ctx context.Context, cfg *query.Config, items []T) error {
	if !cfg.LoadRelations || len(items) == 0 {
		return nil
	}
	for _, path := range cfg.Fields {
		if strings.Contains(path, ".") {
			// Dotted paths are joined in the select itself.
			continue
		}
		rel, ok := r.relations[path]
		if !ok {
			return fmt.Errorf("%w: %s", query.ErrUnknownRelation, path)
		}
		if rel.Load == nil {
			// Join-only relation: its columns are already part of the row.
			continue
		}
		if err := rel.Load(ctx, r.querier(ctx), items); err != nil {
			return fmt.Errorf("load %s.%s: %w", r.table, path, err)
		}
	}
	return nil
}

func (r *Repository[T]) count(ctx context.Context, cfg *query.Config) (int64, error) {
	q, err := r.b.countQuery(cfg)
	if err != nil {
		return 0, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count %s: %w", r.table, err)
	}

	var n int64
	if err := r.querier(ctx).QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		// HAVING without GROUP BY yields no row when the threshold fails.
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count %s: %w", r.table, err)
	}
	return n, nil
}

// Get returns the row with the given primary key, or nil. A non-nil cfg
// contributes its other clauses; its limit is forced to 1.
func (r *Repository[T]) Get(ctx context.Context, id any, cfg *query.Config) (*T, error) {
	c := query.ByID(id)
	if cfg != nil {
		c = cfg.Clone().Where("id", id).Page(1, 0)
		c.ReturnData = true
	}
	res, err := r.Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	return res.Item, nil
}

// GetAll returns every matching row; the slice is empty, not nil, when
// nothing matches.
func (r *Repository[T]) GetAll(ctx context.Context, cfg *query.Config) ([]T, error) {
	c := orDefault(cfg)
	if !c.ReturnData {
		c = c.Clone()
		c.ReturnData = true
	}
	res, err := r.Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	return res.List(), nil
}

// Count returns the number of matching rows.
func (r *Repository[T]) Count(ctx context.Context, cfg *query.Config) (int64, error) {
	res, err := r.Execute(ctx, orDefault(cfg).WithoutData())
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Exists reports whether any row matches.
func (r *Repository[T]) Exists(ctx context.Context, cfg *query.Config) (bool, error) {
	n, err := r.Count(ctx, cfg)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create inserts one row from a struct or column map and returns it as
// stored, including database defaults. Returns nil when cfg.ReturnData is false.
func (r *Repository[T]) Create(ctx context.Context, data any, cfg *query.Config) (*T, error) {
	cfg = orDefault(cfg)
	payload, err := schema.ToInsertPayload(data)
	if err != nil {
		return nil, err
	}

	q, err := r.b.insertQuery(payload, cfg.ReturnData)
	if err != nil {
		return nil, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert %s: %w", r.table, err)
	}

	if !cfg.ReturnData {
		if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
			return nil, r.mapWriteError(err)
		}
		return nil, nil
	}

	out := new(T)
	if err := pgxscan.Get(ctx, r.querier(ctx), out, sql, args...); err != nil {
		return nil, r.mapWriteError(err)
	}
	if err := schema.Check(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies data to every row matching cfg's filters; sort and paging
// only shape the re-read that follows when cfg.ReturnData is set.
func (r *Repository[T]) Update(ctx context.Context, data map[string]any, cfg *query.Config) (*query.Result[T], error) {
	cfg = orDefault(cfg)
	if len(data) == 0 {
		return nil, apperror.NewValidation("nothing to update")
	}

	q, err := r.b.updateQuery(data, cfg)
	if err != nil {
		return nil, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update %s: %w", r.table, err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return nil, r.mapWriteError(err)
	}

	if !cfg.ReturnData {
		return nil, nil
	}
	// Concurrent writers may change rows between the update and this read.
	return r.Execute(ctx, cfg)
}

// Delete removes every row matching cfg's filters. With cfg.ReturnData the
// selected rows are captured before the statement runs and returned.
func (r *Repository[T]) Delete(ctx context.Context, cfg *query.Config) ([]T, error) {
	cfg = orDefault(cfg)

	var snapshot []T
	if cfg.ReturnData {
		res, err := r.Execute(ctx, cfg)
		if err != nil {
			return nil, err
		}
		snapshot = res.List()
	}

	q, err := r.b.deleteQuery(cfg)
	if err != nil {
		return nil, err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete %s: %w", r.table, err)
	}

	if _, err := r.querier(ctx).Exec(ctx, sql, args...); err != nil {
		return nil, r.mapWriteError(err)
	}
	return snapshot, nil
}

// Upsert updates the row matching data on uniqueFields, or creates it.
func (r *Repository[T]) Upsert(ctx context.Context, data map[string]any, uniqueFields []string, cfg *query.Config) (*T, error) {
	if len(uniqueFields) == 0 {
		return nil, apperror.NewValidation("upsert requires at least one unique field")
	}

	match := query.New().Page(1, 0)
	for _, field := range uniqueFields {
		v, ok := data[field]
		if !ok {
			return nil, apperror.NewValidation(fmt.Sprintf("upsert field %q missing from data", field))
		}
		match.Where(field, v)
	}

	existing, err := r.Execute(ctx, match)
	if err != nil {
		return nil, err
	}
	if existing.Item != nil {
		res, err := r.Update(ctx, data, match)
		if err != nil {
			return nil, err
		}
		return res.Item, nil
	}
	return r.Create(ctx, data, cfg)
}

// mapWriteError translates constraint violations into application errors.
func (r *Repository[T]) mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("write %s: %w", r.table, err)
	}

	switch pgErr.Code {
	case "23505":
		field := strings.TrimPrefix(pgErr.ConstraintName, r.table+"_")
		field = strings.TrimSuffix(field, "_key")
		return apperror.NewDuplicate(r.table, field, pgErr.Detail).WithCause(err)
	case "23503":
		return apperror.NewConflict("referenced record does not exist or is still in use").
			WithDetail("entity", r.table).
			WithDetail("constraint", pgErr.ConstraintName).
			WithCause(err)
	case "23502", "23514":
		return apperror.NewValidation(pgErr.Message).
			WithDetail("column", pgErr.ColumnName).
			WithCause(err)
	}
	return fmt.Errorf("write %s: %w", r.table, err)
}

// Builder exposes the PostgreSQL statement builder for custom statements.
func (r *Repository[T]) Builder() squirrel.StatementBuilderType {
	return psql
}
