// Package domaintest provides an in-memory domain.Repository for service tests.
package domaintest

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cast"

	"docchat/internal/core/schema"
	"docchat/internal/domain/query"
)

// MemRepo stores rows as column maps and decodes them into T on read.
// Filters support eq, neq, in, not_in, is_null and is_not_null. Sort keys
// apply asc fields first, ties keep insertion order.
type MemRepo[T any] struct {
	mu     sync.Mutex
	table  string
	rows   []map[string]any
	nextID int64

	// FailWrites makes Create, Update and Delete return this error.
	FailWrites error

	loaders map[string]func(items []T) error
}

// WithLoader registers a relation path filled by load when a read asks for it.
func (r *MemRepo[T]) WithLoader(path string, load func(items []T) error) *MemRepo[T] {
	if r.loaders == nil {
		r.loaders = map[string]func(items []T) error{}
	}
	r.loaders[path] = load
	return r
}

// NewMemRepo creates an empty repository for table.
func NewMemRepo[T any](table string) *MemRepo[T] {
	return &MemRepo[T]{table: table}
}

func (r *MemRepo[T]) Table() string { return r.table }

// Len returns the number of stored rows.
func (r *MemRepo[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

func deref(v any) any {
	rv := reflect.ValueOf(v)
	for rv.IsValid() && rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil
	}
	return rv.Interface()
}

func same(a, b any) bool {
	a, b = deref(a), deref(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func (r *MemRepo[T]) test(row map[string]any, field string, value any) bool {
	field = strings.TrimPrefix(field, r.table+".")
	op, operand := query.Resolve(value)
	got := row[field]

	switch op {
	case query.OpEq:
		return same(got, operand)
	case query.OpNeq:
		return !same(got, operand)
	case query.OpIn, query.OpNotIn:
		items, _ := query.Operands(operand)
		in := lo.ContainsBy(items, func(x any) bool { return same(got, x) })
		return in == (op == query.OpIn)
	case query.OpIsNull:
		return deref(got) == nil
	case query.OpIsNotNull:
		return deref(got) != nil
	}
	panic(fmt.Sprintf("domaintest: operator %s not supported", op))
}

func (r *MemRepo[T]) matches(row map[string]any, cfg *query.Config) bool {
	for _, field := range cfg.Filters.Fields() {
		if !r.test(row, field, cfg.Filters[field]) {
			return false
		}
	}
	if len(cfg.OrFilters) == 0 {
		return true
	}
	for _, field := range cfg.OrFilters.Fields() {
		if r.test(row, field, cfg.OrFilters[field]) {
			return true
		}
	}
	return false
}

// selected returns the indexes of rows cfg selects, paged when asked.
// Writes use the unpaged selection.
func (r *MemRepo[T]) selected(cfg *query.Config, paged bool) []int {
	var idx []int
	for i, row := range r.rows {
		if r.matches(row, cfg) {
			idx = append(idx, i)
		}
	}
	r.sort(idx, cfg)
	if !paged {
		return idx
	}
	if cfg.Offset > 0 {
		idx = idx[min(cfg.Offset, len(idx)):]
	}
	if cfg.Limit > 0 && len(idx) > cfg.Limit {
		idx = idx[:cfg.Limit]
	}
	return idx
}

func compare(a, b any) int {
	a, b = deref(a), deref(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	fa, errA := cast.ToFloat64E(fmt.Sprint(a))
	fb, errB := cast.ToFloat64E(fmt.Sprint(b))
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func (r *MemRepo[T]) sort(idx []int, cfg *query.Config) {
	type key struct {
		field string
		desc  bool
	}
	var keys []key
	for _, d := range cfg.Directions() {
		for _, f := range cfg.Sort[d] {
			keys = append(keys, key{strings.TrimPrefix(f, r.table+"."), d == query.Desc})
		}
	}
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(idx, func(i, j int) bool {
		for _, k := range keys {
			c := compare(r.rows[idx[i]][k.field], r.rows[idx[j]][k.field])
			if c == 0 {
				continue
			}
			return (c < 0) != k.desc
		}
		return false
	})
}

func (r *MemRepo[T]) decode(row map[string]any) (T, error) {
	v, err := schema.Validate[T](row)
	if err != nil {
		var zero T
		return zero, err
	}
	return *v, nil
}

func orNew(cfg *query.Config) *query.Config {
	if cfg == nil {
		return query.New()
	}
	return cfg
}

func (r *MemRepo[T]) execute(cfg *query.Config) (*query.Result[T], error) {
	if !cfg.ReturnData {
		return &query.Result[T]{Count: int64(len(r.selected(cfg, false)))}, nil
	}
	idx := r.selected(cfg, true)
	items := make([]T, 0, len(idx))
	for _, i := range idx {
		item, err := r.decode(r.rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := r.load(cfg, items); err != nil {
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

func (r *MemRepo[T]) load(cfg *query.Config, items []T) error {
	if !cfg.LoadRelations || len(items) == 0 {
		return nil
	}
	for _, path := range cfg.Fields {
		load, ok := r.loaders[path]
		if !ok {
			return fmt.Errorf("%w: %s", query.ErrUnknownRelation, path)
		}
		if err := load(items); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemRepo[T]) Execute(_ context.Context, cfg *query.Config) (*query.Result[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.execute(orNew(cfg))
}

func (r *MemRepo[T]) Get(ctx context.Context, id any, cfg *query.Config) (*T, error) {
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

func (r *MemRepo[T]) GetAll(ctx context.Context, cfg *query.Config) ([]T, error) {
	c := orNew(cfg).Clone()
	c.ReturnData = true
	res, err := r.Execute(ctx, c)
	if err != nil {
		return nil, err
	}
	return res.List(), nil
}

func (r *MemRepo[T]) Create(_ context.Context, data any, _ *query.Config) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return nil, r.FailWrites
	}

	row, err := schema.ToInsertPayload(data)
	if err != nil {
		return nil, err
	}
	r.nextID++
	row["id"] = r.nextID
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = time.Now()
	}

	item, err := r.decode(row)
	if err != nil {
		r.nextID--
		return nil, err
	}
	r.rows = append(r.rows, row)
	return &item, nil
}

func (r *MemRepo[T]) Update(_ context.Context, data map[string]any, cfg *query.Config) (*query.Result[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return nil, r.FailWrites
	}
	cfg = orNew(cfg)

	for _, i := range r.selected(cfg, false) {
		for k, v := range data {
			r.rows[i][k] = v
		}
		r.rows[i]["updated_at"] = time.Now()
	}
	if !cfg.ReturnData {
		return nil, nil
	}
	return r.execute(cfg)
}

func (r *MemRepo[T]) Delete(_ context.Context, cfg *query.Config) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailWrites != nil {
		return nil, r.FailWrites
	}
	cfg = orNew(cfg)

	var snapshot []T
	if cfg.ReturnData {
		res, err := r.execute(cfg)
		if err != nil {
			return nil, err
		}
		snapshot = res.List()
	}

	drop := r.selected(cfg, false)
	sort.Sort(sort.Reverse(sort.IntSlice(drop)))
	for _, i := range drop {
		r.rows = append(r.rows[:i], r.rows[i+1:]...)
	}
	return snapshot, nil
}

func (r *MemRepo[T]) Count(ctx context.Context, cfg *query.Config) (int64, error) {
	res, err := r.Execute(ctx, orNew(cfg).WithoutData())
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

func (r *MemRepo[T]) Exists(ctx context.Context, cfg *query.Config) (bool, error) {
	n, err := r.Count(ctx, cfg)
	return n > 0, err
}
