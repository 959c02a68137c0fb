package query

// Result is what a data-returning or counting query produced.
//
// Exactly one shape is meaningful: Count when the config did not return
// data, Item when it asked for a single row (nil when nothing matched), Items
// otherwise (never nil).
type Result[T any] struct {
	Single bool
	Item   *T
	Items  []T
	Count  int64
}

// List returns the rows regardless of shape.
func (r *Result[T]) List() []T {
	if r == nil {
		return []T{}
	}
	if r.Single {
		if r.Item == nil {
			return []T{}
		}
		return []T{*r.Item}
	}
	if r.Items == nil {
		return []T{}
	}
	return r.Items
}

// Empty reports whether no row matched.
func (r *Result[T]) Empty() bool {
	return len(r.List()) == 0
}
