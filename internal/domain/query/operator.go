package query

import (
	"fmt"
	"reflect"
)

// Operator is a comparison usable in filters and having clauses.
type Operator string

const (
	OpEq        Operator = "eq"
	OpNeq       Operator = "neq"
	OpGt        Operator = "gt"
	OpLt        Operator = "lt"
	OpGte       Operator = "gte"
	OpLte       Operator = "lte"
	OpLike      Operator = "like"  // case-sensitive substring
	OpILike     Operator = "ilike" // case-insensitive substring
	OpIn        Operator = "in"
	OpNotIn     Operator = "not_in"
	OpBetween   Operator = "between" // inclusive, exactly two bounds
	OpIsNull    Operator = "is_null"
	OpIsNotNull Operator = "is_not_null"
)

var operators = map[Operator]struct{}{
	OpEq: {}, OpNeq: {}, OpGt: {}, OpLt: {}, OpGte: {}, OpLte: {},
	OpLike: {}, OpILike: {}, OpIn: {}, OpNotIn: {}, OpBetween: {},
	OpIsNull: {}, OpIsNotNull: {},
}

// Valid reports whether o belongs to the operator vocabulary.
func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

// ParseOperator returns the operator named s.
func ParseOperator(s string) (Operator, bool) {
	op := Operator(s)
	return op, op.Valid()
}

// Resolve splits a filter value into its operator and operand.
//
// A single-key map whose key names a known operator selects that operator.
// Every other value, including a map keyed by an unknown operator, is an
// equality comparison against the value as a whole.
func Resolve(value any) (Operator, any) {
	var (
		key     string
		operand any
		n       int
	)
	switch m := value.(type) {
	case map[string]any:
		n = len(m)
		for k, v := range m {
			key, operand = k, v
		}
	case map[Operator]any:
		n = len(m)
		for k, v := range m {
			key, operand = string(k), v
		}
	default:
		return OpEq, value
	}

	if n == 1 {
		if op, ok := ParseOperator(key); ok {
			return op, operand
		}
	}
	return OpEq, value
}

// Operands flattens a slice or array operand into []any.
func Operands(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, fmt.Errorf("%w: expected a list, got %T", ErrInvalidOperand, v)
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

// Condition constructors. Each returns the {operator: value} map form.

func Eq(v any) map[string]any    { return map[string]any{string(OpEq): v} }
func Neq(v any) map[string]any   { return map[string]any{string(OpNeq): v} }
func Gt(v any) map[string]any    { return map[string]any{string(OpGt): v} }
func Lt(v any) map[string]any    { return map[string]any{string(OpLt): v} }
func Gte(v any) map[string]any   { return map[string]any{string(OpGte): v} }
func Lte(v any) map[string]any   { return map[string]any{string(OpLte): v} }
func Like(v any) map[string]any  { return map[string]any{string(OpLike): v} }
func ILike(v any) map[string]any { return map[string]any{string(OpILike): v} }
func In(v any) map[string]any    { return map[string]any{string(OpIn): v} }
func NotIn(v any) map[string]any { return map[string]any{string(OpNotIn): v} }

func Between(lo, hi any) map[string]any {
	return map[string]any{string(OpBetween): []any{lo, hi}}
}

func IsNull() map[string]any    { return map[string]any{string(OpIsNull): true} }
func IsNotNull() map[string]any { return map[string]any{string(OpIsNotNull): true} }
