// Package query describes read and write intents independently of any table.
//
// A Config is assembled per call (by a service or decoded from a request),
// handed to a repository and never mutated afterwards; operations that need a
// variation work on Clone.
package query

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samber/lo"
)

const (
	DefaultLimit  = 100
	DefaultOffset = 0
)

var (
	ErrUnknownField     = errors.New("query: unknown field")
	ErrUnknownRelation  = errors.New("query: unknown relation")
	ErrInvalidOperand   = errors.New("query: invalid operand")
	ErrBetweenArity     = errors.New("query: between requires exactly two values")
	ErrInvalidDirection = errors.New("query: sort direction must be asc or desc")
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filters maps a field to a literal (equality) or to {operator: value}.
type Filters map[string]any

// Fields returns the filter keys in sorted order.
func (f Filters) Fields() []string {
	keys := lo.Keys(map[string]any(f))
	sort.Strings(keys)
	return keys
}

// Config is a declarative query description.
type Config struct {
	Filters       Filters                `json:"filters,omitempty" mapstructure:"filters"`
	OrFilters     Filters                `json:"or_filters,omitempty" mapstructure:"or_filters"`
	Sort          map[Direction][]string `json:"sort,omitempty" mapstructure:"sort"`
	Joins         map[string]string      `json:"joins,omitempty" mapstructure:"joins"`
	Fields        []string               `json:"fields,omitempty" mapstructure:"fields"`
	GroupBy       []string               `json:"group_by,omitempty" mapstructure:"group_by"`
	Having        Filters                `json:"having,omitempty" mapstructure:"having"`
	Limit         int                    `json:"limit" mapstructure:"limit"`
	Offset        int                    `json:"offset" mapstructure:"offset"`
	ReturnData    bool                   `json:"return_data" mapstructure:"return_data"`
	LoadRelations bool                   `json:"load_relations" mapstructure:"load_relations"`

	// Lock takes row locks on the selected rows until the transaction ends.
	Lock bool `json:"-" mapstructure:"-"`
}

// New returns a config with defaults: limit 100, offset 0, return data.
func New() *Config {
	return &Config{
		Limit:      DefaultLimit,
		Offset:     DefaultOffset,
		ReturnData: true,
	}
}

// ByID selects a single row by primary key.
func ByID(id any) *Config {
	return New().Where("id", id).Page(1, 0)
}

// Where adds an AND filter.
func (c *Config) Where(field string, value any) *Config {
	if c.Filters == nil {
		c.Filters = Filters{}
	}
	c.Filters[field] = value
	return c
}

// OrWhere adds a filter to the OR group.
func (c *Config) OrWhere(field string, value any) *Config {
	if c.OrFilters == nil {
		c.OrFilters = Filters{}
	}
	c.OrFilters[field] = value
	return c
}

// OrderBy appends fields for direction d.
func (c *Config) OrderBy(d Direction, fields ...string) *Config {
	if c.Sort == nil {
		c.Sort = map[Direction][]string{}
	}
	c.Sort[d] = append(c.Sort[d], fields...)
	return c
}

// Join adds a join target with its condition.
func (c *Config) Join(target, condition string) *Config {
	if c.Joins == nil {
		c.Joins = map[string]string{}
	}
	c.Joins[target] = condition
	return c
}

// Load requests eager loading of relation paths.
func (c *Config) Load(paths ...string) *Config {
	c.Fields = append(c.Fields, paths...)
	c.LoadRelations = true
	return c
}

// Group adds group-by fields.
func (c *Config) Group(fields ...string) *Config {
	c.GroupBy = append(c.GroupBy, fields...)
	return c
}

// HavingCount adds a COUNT(field) threshold.
func (c *Config) HavingCount(field string, value any) *Config {
	if c.Having == nil {
		c.Having = Filters{}
	}
	c.Having[field] = value
	return c
}

// Page sets limit and offset.
func (c *Config) Page(limit, offset int) *Config {
	c.Limit = limit
	c.Offset = offset
	return c
}

// ForUpdate locks the selected rows (SELECT ... FOR UPDATE).
func (c *Config) ForUpdate() *Config {
	c.Lock = true
	return c
}

// Single reports whether the caller expects at most one object.
func (c *Config) Single() bool {
	return c.Limit == 1
}

// Directions returns the sort directions present, asc first.
func (c *Config) Directions() []Direction {
	out := make([]Direction, 0, 2)
	for _, d := range []Direction{Asc, Desc} {
		if len(c.Sort[d]) > 0 {
			out = append(out, d)
		}
	}
	return out
}

// Clone returns a deep copy of the top-level collections.
func (c *Config) Clone() *Config {
	if c == nil {
		return New()
	}
	out := *c
	out.Filters = cloneFilters(c.Filters)
	out.OrFilters = cloneFilters(c.OrFilters)
	out.Having = cloneFilters(c.Having)
	if c.Sort != nil {
		out.Sort = make(map[Direction][]string, len(c.Sort))
		for d, fields := range c.Sort {
			out.Sort[d] = append([]string(nil), fields...)
		}
	}
	if c.Joins != nil {
		out.Joins = lo.Assign(c.Joins)
	}
	out.Fields = append([]string(nil), c.Fields...)
	out.GroupBy = append([]string(nil), c.GroupBy...)
	return &out
}

// WithoutData returns a clone that computes a count.
func (c *Config) WithoutData() *Config {
	out := c.Clone()
	out.ReturnData = false
	return out
}

// Validate checks the structural parts a repository cannot check itself.
func (c *Config) Validate() error {
	for d := range c.Sort {
		if d != Asc && d != Desc {
			return ErrInvalidDirection
		}
	}
	if c.Lock && (len(c.GroupBy) > 0 || len(c.Having) > 0) {
		return fmt.Errorf("%w: row locks cannot be taken on grouped rows", ErrInvalidOperand)
	}
	return nil
}

func cloneFilters(f Filters) Filters {
	if f == nil {
		return nil
	}
	return Filters(lo.Assign(map[string]any(f)))
}
