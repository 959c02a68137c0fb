// Package schema maps raw records to typed entities and back.
//
// Reads decode a column map (or a scanned struct) into T and validate it with
// the struct's `validate` tags. Writes flatten a struct or map into the
// column map handed to the query builder.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"docchat/internal/core/apperror"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate decodes record into a new T by db tag and validates it.
func Validate[T any](record map[string]any) (*T, error) {
	out := new(T)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "db",
		Squash:           true,
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc("2006-01-02T15:04:05Z07:00"),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("build decoder: %w", err))
	}
	if err := dec.Decode(record); err != nil {
		return nil, apperror.NewValidation("record does not match schema").WithCause(err)
	}
	if err := Check(out); err != nil {
		return nil, err
	}
	return out, nil
}

// Check validates an already-typed value.
func Check(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		// Non-struct values carry no rules.
		return nil
	}

	appErr := apperror.NewValidation("validation failed")
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		for _, fe := range fieldErrs {
			appErr.WithDetail(fe.Field(), fe.Tag())
		}
	}
	return appErr.WithCause(err)
}

// ToInsertPayload accepts a struct, a pointer to one, or a map and returns the
// column map to insert. Maps are copied as-is.
func ToInsertPayload(data any) (map[string]any, error) {
	switch v := data.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = val
		}
		return out, nil
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return map[string]any{}, nil
	}
	if reflect.Indirect(rv).Kind() != reflect.Struct {
		return nil, apperror.NewValidation(fmt.Sprintf("unsupported payload type %T", data))
	}
	return toMap(rv), nil
}
