package property

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type predicateOp string

const (
	opAny       predicateOp = "exists"
	opEq        predicateOp = "eq"
	opOneOf     predicateOp = "one_of"
	opLt        predicateOp = "lt"
	opLe        predicateOp = "le"
	opGt        predicateOp = "gt"
	opGe        predicateOp = "ge"
	opInRange   predicateOp = "in_range"
	opHasPrefix predicateOp = "has_prefix"
	opHasSuffix predicateOp = "has_suffix"
	opContains  predicateOp = "contains"
)

// Predicate matches a single property value. The zero predicate is
// invalid; construct predicates with Any, Eq, OneOf, Lt, Le, Gt, Ge,
// InRange, HasPrefix, HasSuffix, Contains, and negate with Not.
type Predicate struct {
	op     predicateOp
	value  Value
	values []Value
	min    float64
	max    float64
	str    string
	negate bool
}

// Any matches any present value, including Null: presence of the key is
// the signal, and Null is a legal value. Patterns that need a non-null
// value combine Any with Not(Eq(Null())).
func Any() Predicate { return Predicate{op: opAny} }

// Eq matches values structurally equal to v.
func Eq(v Value) Predicate { return Predicate{op: opEq, value: v} }

// OneOf matches values equal to any member of vs.
func OneOf(vs ...Value) Predicate {
	return Predicate{op: opOneOf, values: append([]Value(nil), vs...)}
}

// Lt matches numeric values strictly below n.
func Lt(n float64) Predicate { return Predicate{op: opLt, min: n} }

// Le matches numeric values at or below n.
func Le(n float64) Predicate { return Predicate{op: opLe, min: n} }

// Gt matches numeric values strictly above n.
func Gt(n float64) Predicate { return Predicate{op: opGt, min: n} }

// Ge matches numeric values at or above n.
func Ge(n float64) Predicate { return Predicate{op: opGe, min: n} }

// InRange matches numeric values in [lo, hi].
func InRange(lo, hi float64) Predicate {
	return Predicate{op: opInRange, min: lo, max: hi}
}

// HasPrefix matches strings starting with s.
func HasPrefix(s string) Predicate { return Predicate{op: opHasPrefix, str: s} }

// HasSuffix matches strings ending with s.
func HasSuffix(s string) Predicate { return Predicate{op: opHasSuffix, str: s} }

// Contains matches strings containing s.
func Contains(s string) Predicate { return Predicate{op: opContains, str: s} }

// Not negates a predicate.
func Not(p Predicate) Predicate {
	p.negate = !p.negate
	return p
}

// Matches reports whether a present value satisfies the predicate.
func (p Predicate) Matches(v Value) bool {
	return p.matchesBase(v) != p.negate
}

func (p Predicate) matchesBase(v Value) bool {
	switch p.op {
	case opAny:
		return true
	case opEq:
		return v.Equal(p.value)
	case opOneOf:
		for _, candidate := range p.values {
			if v.Equal(candidate) {
				return true
			}
		}
		return false
	case opLt:
		n, ok := v.AsFloat64()
		return ok && n < p.min
	case opLe:
		n, ok := v.AsFloat64()
		return ok && n <= p.min
	case opGt:
		n, ok := v.AsFloat64()
		return ok && n > p.min
	case opGe:
		n, ok := v.AsFloat64()
		return ok && n >= p.min
	case opInRange:
		n, ok := v.AsFloat64()
		return ok && n >= p.min && n <= p.max
	case opHasPrefix:
		s, ok := v.AsString()
		return ok && strings.HasPrefix(s, p.str)
	case opHasSuffix:
		s, ok := v.AsString()
		return ok && strings.HasSuffix(s, p.str)
	case opContains:
		s, ok := v.AsString()
		return ok && strings.Contains(s, p.str)
	}
	return false
}

// ExactValue returns the literal an un-negated Eq predicate pins a key
// to. Planners use it to project patterns onto concrete states.
func (p Predicate) ExactValue() (Value, bool) {
	if p.op == opEq && !p.negate {
		return p.value, true
	}
	return Value{}, false
}

// SuggestValue derives a concrete value satisfying the predicate, when
// one exists: the pinned literal for Eq, the first member for OneOf,
// the boundary for the closed comparisons (Le, Ge) and the upper bound
// for InRange. Open comparisons and negations suggest nothing.
func (p Predicate) SuggestValue() (Value, bool) {
	if p.negate {
		return Value{}, false
	}
	switch p.op {
	case opEq:
		return p.value, true
	case opOneOf:
		if len(p.values) > 0 {
			return p.values[0], true
		}
	case opLe, opGe:
		return numericValue(p.min), true
	case opInRange:
		return numericValue(p.max), true
	}
	return Value{}, false
}

func numericValue(f float64) Value {
	if f == float64(int64(f)) {
		return Int(int64(f))
	}
	return Float(f)
}

// MatchesAbsent reports whether the predicate is satisfied when the key
// is missing from the bag. Only a negated existence check tolerates
// absence; every other predicate treats absence as a mismatch.
func (p Predicate) MatchesAbsent() bool {
	return p.op == opAny && p.negate
}

// Canonical renders a stable textual form used in signatures.
func (p Predicate) Canonical() string {
	var sb strings.Builder
	if p.negate {
		sb.WriteString("not ")
	}
	sb.WriteString(string(p.op))
	switch p.op {
	case opEq:
		sb.WriteByte(' ')
		p.value.canonical(&sb)
	case opOneOf:
		sb.WriteByte(' ')
		List(p.values...).canonical(&sb)
	case opLt, opLe, opGt, opGe:
		fmt.Fprintf(&sb, " %g", p.min)
	case opInRange:
		fmt.Fprintf(&sb, " %g..%g", p.min, p.max)
	case opHasPrefix, opHasSuffix, opContains:
		fmt.Fprintf(&sb, " %q", p.str)
	}
	return sb.String()
}

// predicateWire is the explicit serialised form of a predicate. A bare
// scalar (or list/map without an "op" key) deserialises as Eq.
type predicateWire struct {
	Op     string  `json:"op" yaml:"op"`
	Value  *Value  `json:"value,omitempty" yaml:"value,omitempty"`
	Values []Value `json:"values,omitempty" yaml:"values,omitempty"`
	Min    float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Str    string  `json:"str,omitempty" yaml:"str,omitempty"`
	Not    bool    `json:"not,omitempty" yaml:"not,omitempty"`
}

func (p Predicate) wire() any {
	if p.op == opEq && !p.negate {
		return p.value.ToGo()
	}
	w := predicateWire{Op: string(p.op), Not: p.negate}
	switch p.op {
	case opEq:
		v := p.value
		w.Value = &v
	case opOneOf:
		w.Values = p.values
	case opLt, opLe, opGt, opGe:
		w.Min = p.min
	case opInRange:
		w.Min = p.min
		w.Max = p.max
	case opHasPrefix, opHasSuffix, opContains:
		w.Str = p.str
	}
	return w
}

func predicateFromWire(raw any) (Predicate, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		v, err := Of(normalizeYAML(raw))
		if err != nil {
			return Predicate{}, err
		}
		return Eq(v), nil
	}
	opRaw, ok := m["op"].(string)
	if !ok {
		// A map without "op" is an exact-match map value.
		v, err := Of(normalizeYAML(raw))
		if err != nil {
			return Predicate{}, err
		}
		return Eq(v), nil
	}

	p := Predicate{op: predicateOp(opRaw)}
	if not, ok := m["not"].(bool); ok {
		p.negate = not
	}
	switch p.op {
	case opAny:
	case opEq:
		v, err := Of(normalizeYAML(m["value"]))
		if err != nil {
			return Predicate{}, err
		}
		p.value = v
	case opOneOf:
		raws, _ := m["values"].([]any)
		for _, r := range raws {
			v, err := Of(normalizeYAML(r))
			if err != nil {
				return Predicate{}, err
			}
			p.values = append(p.values, v)
		}
	case opLt, opLe, opGt, opGe:
		p.min = toFloat(m["min"])
	case opInRange:
		p.min = toFloat(m["min"])
		p.max = toFloat(m["max"])
	case opHasPrefix, opHasSuffix, opContains:
		p.str, _ = m["str"].(string)
	default:
		return Predicate{}, fmt.Errorf("unknown predicate op %q", opRaw)
	}
	return p, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}

// MarshalJSON encodes the predicate: plain Eq as its bare value,
// everything else in the explicit {op: ...} form.
func (p Predicate) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.wire())
}

// UnmarshalJSON decodes either form.
func (p *Predicate) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	raw = decodeNumbers(raw)
	pred, err := predicateFromWire(raw)
	if err != nil {
		return err
	}
	*p = pred
	return nil
}

// MarshalYAML encodes the predicate for yaml.v3.
func (p Predicate) MarshalYAML() (any, error) {
	w := p.wire()
	if pw, ok := w.(predicateWire); ok {
		return pw, nil
	}
	return w, nil
}

// UnmarshalYAML decodes either form from yaml.v3.
func (p *Predicate) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	pred, err := predicateFromWire(normalizeYAML(raw))
	if err != nil {
		return err
	}
	*p = pred
	return nil
}

func decodeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return int64(n)
		}
		f, _ := x.Float64()
		return f
	case []any:
		for i, e := range x {
			x[i] = decodeNumbers(e)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = decodeNumbers(e)
		}
		return x
	default:
		return v
	}
}

// Pattern is a conjunctive constraint over a Properties bag: a mapping
// from key to predicate. A pattern matches a bag when every constrained
// key satisfies its predicate; keys not mentioned are unconstrained.
type Pattern map[string]Predicate

// NewPattern returns an empty pattern, which matches anything.
func NewPattern() Pattern { return Pattern{} }

// WithPred sets a predicate for a key and returns the pattern.
func (p Pattern) WithPred(key string, pred Predicate) Pattern {
	p[key] = pred
	return p
}

// WithEq is shorthand for an exact match on a literal.
func (p Pattern) WithEq(key string, value any) Pattern {
	return p.WithPred(key, Eq(MustOf(value)))
}

// WithExists is shorthand for an existence check.
func (p Pattern) WithExists(key string) Pattern {
	return p.WithPred(key, Any())
}

// Matches reports whether every constrained key satisfies its predicate.
// Absent keys satisfy only predicates that tolerate absence.
func (p Pattern) Matches(props Properties) bool {
	for key, pred := range p {
		v, ok := props[key]
		if !ok {
			if !pred.MatchesAbsent() {
				return false
			}
			continue
		}
		if !pred.Matches(v) {
			return false
		}
	}
	return true
}

// Keys returns the sorted constrained key set.
func (p Pattern) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unsatisfied counts constrained keys the bag does not yet satisfy.
func (p Pattern) Unsatisfied(props Properties) int {
	misses := 0
	for key, pred := range p {
		v, ok := props[key]
		if !ok {
			if !pred.MatchesAbsent() {
				misses++
			}
			continue
		}
		if !pred.Matches(v) {
			misses++
		}
	}
	return misses
}

// String renders the pattern canonically, keys sorted.
func (p Pattern) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range p.Keys() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteByte(' ')
		sb.WriteString(p[k].Canonical())
	}
	sb.WriteByte('}')
	return sb.String()
}
