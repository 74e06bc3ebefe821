// Package converter defines the contract between the planning/execution
// core and the units of transformation it orchestrates.
package converter

import (
	"context"
	"sort"

	"github.com/aretw0/transmute/pkg/property"
)

// Port is a named input or output slot on a converter. The pattern
// describes what flows through it; List marks slots that carry a
// homogeneous list of items rather than a single item.
type Port struct {
	Pattern property.Pattern `json:"pattern" yaml:"pattern"`
	List    bool             `json:"list,omitempty" yaml:"list,omitempty"`
}

// SinglePort declares a port carrying one item.
func SinglePort(pattern property.Pattern) Port {
	return Port{Pattern: pattern}
}

// ListPort declares a port carrying a list of items.
func ListPort(pattern property.Pattern) Port {
	return Port{Pattern: pattern, List: true}
}

// Item is one unit of data flowing through a conversion: owned bytes
// plus the properties describing them.
type Item struct {
	Data  []byte
	Props property.Properties
}

// Payload maps port names to the items bound to them. Ports declared
// with List=false carry exactly one item; list ports carry any number.
type Payload map[string][]Item

// Single builds a payload binding one item to one port.
func Single(port string, data []byte, props property.Properties) Payload {
	return Payload{port: {{Data: data, Props: props}}}
}

// Decl is a converter's static declaration: identity, ports, cost
// metrics, and the property effects the planner uses to predict the
// post-conversion state.
type Decl struct {
	// ID is the stable identifier, conventionally namespaced by family
	// ("serde.json-to-yaml", "image.resize").
	ID string `json:"id" yaml:"id"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Inputs and Outputs are the named ports. Every decl has at least one
	// of each; port names are unique within their side.
	Inputs  map[string]Port `json:"inputs" yaml:"inputs"`
	Outputs map[string]Port `json:"outputs" yaml:"outputs"`

	// Costs holds numeric metrics for path optimisation. Conventional
	// keys: quality_loss, speed, size_ratio (0.0-1.0 or tool-defined),
	// plus a generic cost fallback.
	Costs property.Properties `json:"costs,omitempty" yaml:"costs,omitempty"`

	// Produces lists properties the conversion overwrites on its outputs;
	// Removes lists keys it strips. Everything else is preserved from the
	// input. Exact-match predicates on output patterns are produced too.
	Produces property.Properties `json:"produces,omitempty" yaml:"produces,omitempty"`
	Removes  []string            `json:"removes,omitempty" yaml:"removes,omitempty"`

	// ProducesFromOptions lists output property keys whose concrete value
	// is taken from the caller-supplied options at conversion time (e.g.
	// a resize converter producing "width" from an option). The planner
	// binds these keys on a step's options bag when the target pattern
	// constrains them.
	ProducesFromOptions []string `json:"produces_from_options,omitempty" yaml:"produces_from_options,omitempty"`

	// SerializeCalls marks implementations that are not safe to call from
	// multiple workers at once; the parallel executor serialises them.
	SerializeCalls bool `json:"serialize_calls,omitempty" yaml:"serialize_calls,omitempty"`
}

// NewDecl starts a declaration with the given id.
func NewDecl(id string) *Decl {
	return &Decl{
		ID:      id,
		Inputs:  map[string]Port{},
		Outputs: map[string]Port{},
	}
}

// WithDescription sets the human-readable description.
func (d *Decl) WithDescription(desc string) *Decl {
	d.Description = desc
	return d
}

// WithInput adds an input port.
func (d *Decl) WithInput(name string, port Port) *Decl {
	d.Inputs[name] = port
	return d
}

// WithOutput adds an output port.
func (d *Decl) WithOutput(name string, port Port) *Decl {
	d.Outputs[name] = port
	return d
}

// WithCost sets a cost metric.
func (d *Decl) WithCost(key string, value float64) *Decl {
	if d.Costs == nil {
		d.Costs = property.New()
	}
	d.Costs[key] = property.Float(value)
	return d
}

// WithProduces records a property the conversion overwrites.
func (d *Decl) WithProduces(key string, value any) *Decl {
	if d.Produces == nil {
		d.Produces = property.New()
	}
	d.Produces[key] = property.MustOf(value)
	return d
}

// WithProducesFromOptions records output keys whose value comes from
// the options bag at conversion time.
func (d *Decl) WithProducesFromOptions(keys ...string) *Decl {
	d.ProducesFromOptions = append(d.ProducesFromOptions, keys...)
	return d
}

// WithSerializeCalls marks the implementation as not thread-safe.
func (d *Decl) WithSerializeCalls() *Decl {
	d.SerializeCalls = true
	return d
}

// WithRemoves records keys the conversion strips from its outputs.
func (d *Decl) WithRemoves(keys ...string) *Decl {
	d.Removes = append(d.Removes, keys...)
	return d
}

// Simple declares a 1→1 converter with an "in" and an "out" port.
func Simple(id string, input, output property.Pattern) *Decl {
	return NewDecl(id).
		WithInput("in", SinglePort(input)).
		WithOutput("out", SinglePort(output))
}

// InputNames returns the sorted input port names.
func (d *Decl) InputNames() []string { return sortedPortNames(d.Inputs) }

// OutputNames returns the sorted output port names.
func (d *Decl) OutputNames() []string { return sortedPortNames(d.Outputs) }

// PrimaryOutput returns the first output port in sorted name order.
func (d *Decl) PrimaryOutput() (string, Port) {
	names := d.OutputNames()
	if len(names) == 0 {
		return "", Port{}
	}
	return names[0], d.Outputs[names[0]]
}

// IsSimple reports a single non-list input and single non-list output.
func (d *Decl) IsSimple() bool {
	if len(d.Inputs) != 1 || len(d.Outputs) != 1 {
		return false
	}
	for _, p := range d.Inputs {
		if p.List {
			return false
		}
	}
	for _, p := range d.Outputs {
		if p.List {
			return false
		}
	}
	return true
}

// Aggregates reports whether any input port expects a list (N→1 or N→M).
func (d *Decl) Aggregates() bool {
	for _, p := range d.Inputs {
		if p.List {
			return true
		}
	}
	return false
}

// Expands reports whether any output port produces a list (1→N or N→M).
func (d *Decl) Expands() bool {
	for _, p := range d.Outputs {
		if p.List {
			return true
		}
	}
	return false
}

// ChangesCardinality reports whether any port carries a list.
func (d *Decl) ChangesCardinality() bool {
	return d.Aggregates() || d.Expands()
}

// MatchesInputs reports whether every input port pattern is satisfied by
// the given state.
func (d *Decl) MatchesInputs(props property.Properties) bool {
	if len(d.Inputs) == 0 {
		return false
	}
	for _, p := range d.Inputs {
		if !p.Pattern.Matches(props) {
			return false
		}
	}
	return true
}

// Apply predicts the post-conversion properties for a given input state:
// preserved input properties, minus Removes, plus Produces and the
// exact-match constraints of the output port's pattern.
func (d *Decl) Apply(props property.Properties, outputPort string) property.Properties {
	out := props.Clone()
	for _, key := range d.Removes {
		delete(out, key)
	}
	if port, ok := d.Outputs[outputPort]; ok {
		for key, pred := range port.Pattern {
			if v, ok := pred.ExactValue(); ok {
				out[key] = v
			}
		}
	}
	for key, v := range d.Produces {
		out[key] = v
	}
	return out
}

// Validate checks the structural invariants of a declaration.
func (d *Decl) Validate() error {
	if d.ID == "" {
		return &Error{Kind: KindInternal, Msg: "converter declaration has no id"}
	}
	if len(d.Inputs) == 0 {
		return &Error{Kind: KindInternal, Converter: d.ID, Msg: "declaration has no input ports"}
	}
	if len(d.Outputs) == 0 {
		return &Error{Kind: KindInternal, Converter: d.ID, Msg: "declaration has no output ports"}
	}
	return nil
}

func sortedPortNames(ports map[string]Port) []string {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Converter is a unit of transformation. Implementations must not panic
// on input matching their declared patterns, must confine side effects
// to producing outputs and consuming options, and must not rely on
// process-wide mutable state.
type Converter interface {
	// Decl returns the static declaration.
	Decl() *Decl

	// Convert transforms the inputs into outputs. Both sides are keyed by
	// port name per the declaration; options is a caller-supplied bag.
	Convert(ctx context.Context, inputs Payload, options property.Properties) (Payload, error)
}
