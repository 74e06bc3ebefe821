// Package planner searches the converter graph for a sequence of
// applications that transforms a source property state into one
// matching a target pattern.
package planner

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/aretw0/transmute/pkg/property"
)

// Cardinality tags a carrier as a single item or a homogeneous list.
type Cardinality int

const (
	// One is a single item.
	One Cardinality = iota
	// Many is a homogeneous list of items.
	Many
)

func (c Cardinality) String() string {
	if c == Many {
		return "many"
	}
	return "one"
}

// MarshalJSON encodes the cardinality as its name.
func (c Cardinality) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "one" or "many".
func (c *Cardinality) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "one":
		*c = One
	case "many":
		*c = Many
	default:
		return fmt.Errorf("unknown cardinality %q", s)
	}
	return nil
}

// SourceStep is the binding index referring to the plan's initial input
// rather than a prior step's output.
const SourceStep = -1

// Binding names where a step's input port reads from: a prior step's
// output port, or the initial source. Steps reference earlier steps by
// integer index only, never by pointer, so plans stay plain data.
type Binding struct {
	Step int    `json:"step"`
	Port string `json:"port,omitempty"`
}

// Step is one converter application in a plan: the converter id, the
// source binding for each input port, and the predicted properties on
// each output port.
type Step struct {
	ConverterID string                         `json:"converter"`
	Inputs      map[string]Binding             `json:"inputs"`
	Outputs     map[string]property.Properties `json:"outputs"`

	// Options carries values the planner bound for keys the converter
	// produces from its options (e.g. a resize width pinned to the
	// target constraint). Merged over caller-supplied options at
	// execution time; a step-bound value wins.
	Options property.Properties `json:"options,omitempty"`
}

// PrimaryOutput returns the step's first output port in sorted name
// order; downstream steps chain from it unless a binding says otherwise.
func (s *Step) PrimaryOutput() string {
	names := make([]string, 0, len(s.Outputs))
	for name := range s.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Plan is an ordered sequence of steps whose composition leaves a state
// matching the target pattern. Plans are immutable once produced and
// hold converter ids only, so they remain valid across registries that
// agree on ids.
type Plan struct {
	Steps []Step `json:"steps"`
	// Cost is the accumulated objective cost of the chosen path.
	Cost float64 `json:"cost"`
	// Final is the predicted property state after the last step.
	Final property.Properties `json:"final"`
	// Cardinality is the carrier cardinality after the last step.
	Cardinality Cardinality `json:"cardinality"`
}

// Len reports the number of steps.
func (p *Plan) Len() int { return len(p.Steps) }

// ConverterIDs returns the step ids in execution order.
func (p *Plan) ConverterIDs() []string {
	ids := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		ids[i] = s.ConverterID
	}
	return ids
}

// Encode serialises the plan as canonical JSON. encoding/json writes
// map keys in sorted order, so equal plans encode byte-for-byte equal.
func (p *Plan) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// ErrNoCachedPlan is the sentinel plan caches return for absent
// entries, so callers can tell a miss from an unavailable cache.
var ErrNoCachedPlan = errors.New("no cached plan")

// RequestSignature renders a canonical textual form of a plan request.
// Identical requests produce identical signatures regardless of map
// iteration order; caches key on it.
func RequestSignature(source property.Properties, target property.Pattern, objective Objective, from, to Cardinality) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s",
		source.Signature(nil), target.String(), objective, from, to)
}

// Decode parses a plan previously produced by Encode.
func Decode(data []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return &p, nil
}
