package stats

import "strings"

// Label is a single name/value pair attached to a sample.
type Label struct {
	Name  string
	Value string
}

// Labels is an ordered label set. Names are unique; order is insertion order.
type Labels []Label

// NewLabels builds a label set from alternating name/value arguments.
// A trailing name without a value is ignored.
func NewLabels(kv ...string) Labels {
	l := make(Labels, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		l.Set(kv[i], kv[i+1])
	}
	return l
}

// Get returns the value for name.
func (l Labels) Get(name string) (string, bool) {
	for _, lbl := range l {
		if lbl.Name == name {
			return lbl.Value, true
		}
	}
	return "", false
}

// Has reports whether name is present.
func (l Labels) Has(name string) bool {
	_, ok := l.Get(name)
	return ok
}

// Set replaces the value of an existing label in place or appends a new one.
func (l *Labels) Set(name, value string) {
	for i := range *l {
		if (*l)[i].Name == name {
			(*l)[i].Value = value
			return
		}
	}
	*l = append(*l, Label{Name: name, Value: value})
}

// SetDefault sets name only when it is not already present.
func (l *Labels) SetDefault(name, value string) {
	if !l.Has(name) {
		*l = append(*l, Label{Name: name, Value: value})
	}
}

// With returns a copy of l with name set to value.
func (l Labels) With(name, value string) Labels {
	out := l.Clone()
	out.Set(name, value)
	return out
}

// Clone returns an independent copy of l.
func (l Labels) Clone() Labels {
	if l == nil {
		return nil
	}
	out := make(Labels, len(l))
	copy(out, l)
	return out
}

// Map returns the label set as a map.
func (l Labels) Map() map[string]string {
	m := make(map[string]string, len(l))
	for _, lbl := range l {
		m[lbl.Name] = lbl.Value
	}
	return m
}

func (l Labels) String() string {
	parts := make([]string, 0, len(l))
	for _, lbl := range l {
		parts = append(parts, lbl.Name+"="+lbl.Value)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
