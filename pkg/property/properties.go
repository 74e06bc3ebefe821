package property

import (
	"sort"
	"strings"
)

// Properties is an unordered mapping from string keys to values,
// describing a data artefact. Keys are conventionally flat ("format",
// "width") and namespaced ("image.compression") only when the same label
// means different things across domains. No key is privileged.
type Properties map[string]Value

// New returns an empty bag.
func New() Properties { return Properties{} }

// FromMap converts a plain Go map (e.g. decoded JSON/YAML) into a bag.
func FromMap(m map[string]any) (Properties, error) {
	props := make(Properties, len(m))
	for k, v := range m {
		val, err := Of(normalizeYAML(v))
		if err != nil {
			return nil, err
		}
		props[k] = val
	}
	return props, nil
}

// With sets a key and returns the bag, for literal construction.
func (p Properties) With(key string, value any) Properties {
	p[key] = MustOf(value)
	return p
}

// Clone returns an independent copy.
func (p Properties) Clone() Properties {
	cp := make(Properties, len(p))
	for k, v := range p {
		cp[k] = v
	}
	return cp
}

// Equal reports whether both bags hold the same keys with equal values.
func (p Properties) Equal(o Properties) bool {
	if len(p) != len(o) {
		return false
	}
	for k, v := range p {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// Merge returns a copy of p with every key of o set on top.
func (p Properties) Merge(o Properties) Properties {
	out := p.Clone()
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Keys returns the sorted key set.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetString returns the string value for key, or "" when absent or not a
// string.
func (p Properties) GetString(key string) string {
	s, _ := p[key].AsString()
	return s
}

// GetInt64 returns the integer value for key.
func (p Properties) GetInt64(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return v.AsInt64()
}

// GetFloat64 returns the numeric value for key.
func (p Properties) GetFloat64(key string) (float64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return v.AsFloat64()
}

// ToGo converts the bag to a plain map for JSON/YAML encoding.
func (p Properties) ToGo() map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v.ToGo()
	}
	return out
}

// Signature renders a canonical textual form of the bag projected onto
// the given keys (all keys when nil). Key order is sorted, so two bags
// that agree on the projection produce identical signatures.
func (p Properties) Signature(keys []string) string {
	if keys == nil {
		keys = p.Keys()
	} else {
		keys = append([]string(nil), keys...)
		sort.Strings(keys)
	}
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	for _, k := range keys {
		v, ok := p[k]
		if !ok {
			continue
		}
		if !first {
			sb.WriteByte(',')
		}
		first = false
		sb.WriteString(k)
		sb.WriteByte('=')
		v.canonical(&sb)
	}
	sb.WriteByte('}')
	return sb.String()
}

// String renders the full bag canonically.
func (p Properties) String() string {
	return p.Signature(nil)
}
