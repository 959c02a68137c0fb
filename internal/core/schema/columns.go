package schema

import (
	"reflect"
	"sync"
)

// fieldInfo is the cached mapping of one struct field to its column.
type fieldInfo struct {
	index    int
	column   string
	omitZero bool
}

type typeMetadata struct {
	fields   []fieldInfo
	embedded []int
}

var typeCache sync.Map // map[reflect.Type]*typeMetadata

func metadataFor(t reflect.Type) *typeMetadata {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := typeCache.Load(t); ok {
		return cached.(*typeMetadata)
	}

	meta := &typeMetadata{}
	if t.Kind() == reflect.Struct {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.Anonymous {
				meta.embedded = append(meta.embedded, i)
				continue
			}
			tag := f.Tag.Get("db")
			if tag == "" || tag == "-" || !f.IsExported() {
				continue
			}
			meta.fields = append(meta.fields, fieldInfo{
				index:    i,
				column:   tag,
				omitZero: f.Tag.Get("insert") == "omitzero",
			})
		}
	}

	typeCache.Store(t, meta)
	return meta
}

// Columns lists the db-tagged columns of T in declaration order, with
// embedded mixins expanded where they appear.
func Columns[T any]() []string {
	var zero T
	return columnsOf(reflect.TypeOf(zero))
}

func columnsOf(t reflect.Type) []string {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var cols []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous {
			cols = append(cols, columnsOf(f.Type)...)
			continue
		}
		tag := f.Tag.Get("db")
		if tag == "" || tag == "-" || !f.IsExported() {
			continue
		}
		cols = append(cols, tag)
	}
	return cols
}

// toMap converts a struct to a column map. Fields tagged insert:"omitzero"
// are dropped when they hold their zero value.
func toMap(rv reflect.Value) map[string]any {
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	meta := metadataFor(rv.Type())
	res := make(map[string]any, len(meta.fields))
	for _, fi := range meta.fields {
		fv := rv.Field(fi.index)
		if fi.omitZero && fv.IsZero() {
			continue
		}
		res[fi.column] = fv.Interface()
	}
	for _, idx := range meta.embedded {
		for k, v := range toMap(rv.Field(idx)) {
			res[k] = v
		}
	}
	return res
}
