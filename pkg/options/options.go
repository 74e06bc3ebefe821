// Package options validates the normalised option surface the core
// accepts. Only operations expressible as these options (or property
// constraints) cross the boundary; pixel-coordinate edits, colour
// grading and content-aware effects stay out of scope.
package options

import (
	"fmt"

	"github.com/aretw0/transmute/pkg/property"
)

// Type defines the contract for option validation.
type Type interface {
	// Name returns the human-readable name of the type.
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value property.Value) error
}

// --- Built-in Type Implementations ---

// StringType validates string values.
type StringType struct{}

func (t *StringType) Name() string { return "string" }

func (t *StringType) Validate(value property.Value) error {
	if _, ok := value.AsString(); !ok {
		return fmt.Errorf("expected string, got %s", value.Kind())
	}
	return nil
}

// IntType validates integer values, optionally bounded.
type IntType struct {
	min, max int64
	bounded  bool
}

func (t *IntType) Name() string {
	if t.bounded {
		return fmt.Sprintf("int[%d..%d]", t.min, t.max)
	}
	return "int"
}

func (t *IntType) Validate(value property.Value) error {
	n, ok := value.AsInt64()
	if !ok {
		// Accept floats that are whole numbers (from JSON unmarshaling).
		f, fok := value.AsFloat64()
		if !fok || f != float64(int64(f)) {
			return fmt.Errorf("expected int, got %s", value.Kind())
		}
		n = int64(f)
	}
	if t.bounded && (n < t.min || n > t.max) {
		return fmt.Errorf("must be between %d and %d", t.min, t.max)
	}
	return nil
}

// FloatType validates numeric values, optionally bounded.
type FloatType struct {
	min, max float64
	bounded  bool
}

func (t *FloatType) Name() string {
	if t.bounded {
		return fmt.Sprintf("float[%g..%g]", t.min, t.max)
	}
	return "float"
}

func (t *FloatType) Validate(value property.Value) error {
	f, ok := value.AsFloat64()
	if !ok {
		return fmt.Errorf("expected number, got %s", value.Kind())
	}
	if t.bounded && (f < t.min || f > t.max) {
		return fmt.Errorf("must be between %g and %g", t.min, t.max)
	}
	return nil
}

// EnumType validates membership in a fixed value set.
type EnumType struct {
	name    string
	allowed []string
}

func (t *EnumType) Name() string { return t.name }

func (t *EnumType) Validate(value property.Value) error {
	s, ok := value.AsString()
	if !ok {
		return fmt.Errorf("expected string, got %s", value.Kind())
	}
	for _, a := range t.allowed {
		if s == a {
			return nil
		}
	}
	return fmt.Errorf("must be one of %v", t.allowed)
}

// MapType validates a nested option bag against its own schema.
type MapType struct {
	schema Schema
}

func (t *MapType) Name() string { return "map" }

func (t *MapType) Validate(value property.Value) error {
	m, ok := value.AsMap()
	if !ok {
		return fmt.Errorf("expected map, got %s", value.Kind())
	}
	return Validate(t.schema, property.Properties(m))
}

// --- Factory Functions ---

// String creates a string validator.
func String() Type { return &StringType{} }

// Int creates an unbounded integer validator.
func Int() Type { return &IntType{} }

// IntRange creates a bounded integer validator.
func IntRange(min, max int64) Type { return &IntType{min: min, max: max, bounded: true} }

// Float creates an unbounded numeric validator.
func Float() Type { return &FloatType{} }

// FloatRange creates a bounded numeric validator.
func FloatRange(min, max float64) Type { return &FloatType{min: min, max: max, bounded: true} }

// Enum creates a fixed-set string validator.
func Enum(name string, allowed ...string) Type { return &EnumType{name: name, allowed: allowed} }

// Map creates a nested-bag validator.
func Map(schema Schema) Type { return &MapType{schema: schema} }

// Schema is a map of option names to their expected types.
type Schema map[string]Type

// Validate checks the options present in the bag against the schema.
// Options the schema does not mention pass through untouched; whether
// a converter tolerates them is its own call (UnsupportedOption).
func Validate(schema Schema, opts property.Properties) error {
	if len(schema) == 0 {
		return nil
	}

	var errs []error
	for key, value := range opts {
		optType, known := schema[key]
		if !known {
			continue
		}
		err := optType.Validate(value)
		if err == nil {
			continue
		}
		// Failures inside a nested bag surface under their full
		// dot-joined path ("watermark.opacity"), not the bare inner key.
		if nested := ValidationErrors(err); nested != nil {
			for _, child := range nested {
				if ve, ok := child.(*ValidationError); ok {
					errs = append(errs, &ValidationError{
						Key:    key + "." + ve.Key,
						Reason: ve.Reason,
						Value:  ve.Value,
					})
					continue
				}
				errs = append(errs, child)
			}
			continue
		}
		errs = append(errs, &ValidationError{
			Key:    key,
			Reason: err.Error(),
			Value:  value.ToGo(),
		})
	}

	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// Gravity names the fixed anchor set for aspect and watermark
// placement.
var Gravity = []string{
	"top-left", "top", "top-right",
	"left", "center", "right",
	"bottom-left", "bottom", "bottom-right",
}

// Normalized is the option surface the core accepts.
var Normalized = Schema{
	"format":     String(),
	"max_width":  IntRange(1, 1<<20),
	"max_height": IntRange(1, 1<<20),
	"scale":      FloatRange(0, 100),
	"aspect":     String(),
	"gravity":    Enum("gravity", Gravity...),
	"quality":    IntRange(0, 100),
	"width":      IntRange(1, 1<<20),
	"height":     IntRange(1, 1<<20),
	"watermark": Map(Schema{
		"position": Enum("position", Gravity...),
		"opacity":  FloatRange(0.0, 1.0),
		"margin":   Int(),
	}),
}

// ValidateNormalized checks a bag against the normalised surface.
func ValidateNormalized(opts property.Properties) error {
	return Validate(Normalized, opts)
}
