package options

import (
	"fmt"
	"strings"
)

// ValidationError reports one option that failed validation. Key is
// the full option path, dot-joined for nested bags
// ("watermark.opacity"), following the namespaced-key convention of
// property bags.
type ValidationError struct {
	Key    string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("option %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("option %q: %s (got %v)", e.Key, e.Reason, e.Value)
}

// AggregateError collects every failure found in one options bag, so a
// caller sees the whole rejected surface at once. Converter, when set,
// names the converter whose option surface rejected the bag.
type AggregateError struct {
	Converter string
	Errors    []error
}

func (e *AggregateError) Error() string {
	var sb strings.Builder
	if e.Converter != "" {
		fmt.Fprintf(&sb, "converter %q: ", e.Converter)
	}
	if len(e.Errors) == 1 {
		sb.WriteString(e.Errors[0].Error())
		return sb.String()
	}
	fmt.Fprintf(&sb, "%d option errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// For attaches the id of the converter that rejected the bag and
// returns the error, so call sites can add context without rebuilding
// it.
func (e *AggregateError) For(converterID string) *AggregateError {
	e.Converter = converterID
	return e
}

// ValidationErrors returns all validation errors if err is an
// AggregateError. Otherwise returns nil.
func ValidationErrors(err error) []error {
	if aggr, ok := err.(*AggregateError); ok {
		return aggr.Errors
	}
	return nil
}
