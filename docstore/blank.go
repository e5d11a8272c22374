package docstore

import (
	"reflect"
	"strings"
)

// IsBlank reports whether a field value counts as empty/unset: nil, a string
// that is empty after trimming, a zero number, or an empty map or slice.
// Booleans are never blank so that an explicit false survives a merge write.
func IsBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case bool:
		return false
	case float64:
		return t == 0
	case float32:
		return t == 0
	case int:
		return t == 0
	case int64:
		return t == 0
	case int32:
		return t == 0
	case Fields:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return true
		}
		return IsBlank(rv.Elem().Interface())
	case reflect.Map, reflect.Slice:
		return rv.Len() == 0
	case reflect.String:
		return strings.TrimSpace(rv.String()) == ""
	}
	return false
}

// WithoutBlanks returns a copy of f with every blank field removed.
func (f Fields) WithoutBlanks() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		if IsBlank(v) {
			continue
		}
		out[k] = v
	}
	return out
}
