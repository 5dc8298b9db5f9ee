package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingField is returned when a converter reads a field the entity does not carry.
var ErrMissingField = errors.New("missing metric field")

// Fields maps raw metric field names to one entity's values. Values are
// float64 for numeric fields and string for the few textual ones (nic type,
// object uuids, CNS tags).
type Fields map[string]any

// Has reports whether name is present.
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Number returns the numeric value of name.
func (f Fields) Number(name string) (float64, error) {
	v, ok := f[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("field %s is not numeric: %v", name, v)
	}
}

// Text returns the string value of name.
func (f Fields) Text(name string) (string, bool) {
	v, ok := f[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// stripped returns a copy of f with every occurrence of the given fragments
// removed from the field names, applied in order. On collision a reported
// value beats the absent sentinel.
func (f Fields) stripped(fragments ...string) Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		for _, frag := range fragments {
			k = strings.ReplaceAll(k, frag, "")
		}
		if prev, ok := out[k]; ok && isAbsent(v) && !isAbsent(prev) {
			continue
		}
		out[k] = v
	}
	return out
}

func isAbsent(v any) bool {
	n, ok := v.(float64)
	return ok && n == absentSentinel
}

// fieldReader reads numeric fields and keeps the first failure, so a
// converter can emit a whole family and check the error once.
type fieldReader struct {
	fields Fields
	err    error
}

func newReader(f Fields) *fieldReader {
	return &fieldReader{fields: f}
}

func (r *fieldReader) num(name string) float64 {
	v, err := r.fields.Number(name)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

// numOr returns def when name is absent. Present but non-numeric values are
// still an error.
func (r *fieldReader) numOr(name string, def float64) float64 {
	if !r.fields.Has(name) {
		return def
	}
	return r.num(name)
}

func (r *fieldReader) Err() error {
	return r.err
}
