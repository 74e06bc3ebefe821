package executor

import (
	"errors"
	"fmt"
)

// ErrCancelled is returned when the caller's context fires between
// steps or jobs. The in-flight converter call runs to completion;
// subsequent steps are skipped.
var ErrCancelled = errors.New("execution cancelled")

// ErrEmptyPlan is returned by operations that need at least one step.
var ErrEmptyPlan = errors.New("empty plan")

// MemoryLimitError reports a refused or impossible reservation.
type MemoryLimitError struct {
	Needed int
	Limit  int
}

func (e *MemoryLimitError) Error() string {
	return fmt.Sprintf("memory limit exceeded: need %d bytes, limit %d bytes", e.Needed, e.Limit)
}

// StepError wraps a failure at a specific plan step.
type StepError struct {
	Step      int
	Converter string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Converter, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// InternalError marks an invariant violation, e.g. a port binding that
// references a step which did not produce the named port.
type InternalError struct {
	Msg string
}

func (e *InternalError) Error() string {
	return "internal: " + e.Msg
}
