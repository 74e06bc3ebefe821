// Package executor runs conversion plans under pluggable resource
// policies: sequential and unbounded, sequential with a fail-fast
// memory limit, or parallel under a shared memory budget.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/transmute/internal/logging"
	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
)

// Context carries the shared collaborators and resource policy for a
// set of executions. The registry is read-only during execution and
// shared by reference.
type Context struct {
	Registry Resolver
	// MemoryLimit bounds estimated memory in bytes; 0 means unbounded.
	MemoryLimit int
	// Parallelism sizes the worker pool for batch execution; 0 means
	// the logical CPU count.
	Parallelism int
	// Options is a caller-supplied bag passed to every converter call,
	// under any step-bound options.
	Options property.Properties
	Logger  *slog.Logger
}

// Resolver is the narrow registry view executors need.
type Resolver interface {
	Lookup(id string) (converter.Converter, bool)
	Decl(id string) (*converter.Decl, bool)
}

// NewContext creates an execution context over a registry.
func NewContext(reg Resolver) *Context {
	return &Context{Registry: reg, Logger: logging.NewNop()}
}

// WithMemoryLimit sets the memory limit in bytes.
func (c *Context) WithMemoryLimit(bytes int) *Context {
	c.MemoryLimit = bytes
	return c
}

// WithParallelism sets the batch worker pool size.
func (c *Context) WithParallelism(workers int) *Context {
	c.Parallelism = workers
	return c
}

// WithOptions sets the caller-supplied options bag.
func (c *Context) WithOptions(opts property.Properties) *Context {
	c.Options = opts
	return c
}

// WithLogger sets a structured logger.
func (c *Context) WithLogger(logger *slog.Logger) *Context {
	c.Logger = logger
	return c
}

// Stats reports what an execution actually did.
type Stats struct {
	Duration      time.Duration `json:"duration"`
	PeakMemory    int           `json:"peak_memory"`
	StepsExecuted int           `json:"steps_executed"`
}

// Result is the outcome of executing a plan on one input.
type Result struct {
	Data  []byte
	Props property.Properties
	Stats Stats
}

// Job is an executable unit for batch processing.
type Job struct {
	Plan  *planner.Plan
	Input []byte
	Props property.Properties
}

// JobResult pairs a batch entry with its outcome; exactly one of Result
// and Err is set.
type JobResult struct {
	Result *Result
	Err    error
}

// Executor decides how a plan runs. All variants share this contract;
// they differ only in resource policy.
type Executor interface {
	// Execute runs a plan on a single input. If the pipeline expands into
	// multiple outputs, only the first is returned; use ExecuteExpanding
	// for all of them.
	Execute(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) (*Result, error)

	// ExecuteExpanding runs a plan whose pipeline may fan out (1→N) and
	// returns every final output.
	ExecuteExpanding(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) ([]*Result, error)

	// ExecuteBatch runs independent jobs. Per-job failures produce Err
	// entries; the batch itself never fails wholesale (cancellation stops
	// jobs that have not started). Result order matches input order.
	ExecuteBatch(ctx context.Context, ec *Context, jobs []Job) []JobResult

	// ExecuteAggregating runs a plan that folds N inputs into one output
	// (pre-steps per item, one aggregation, post-steps on the result).
	ExecuteAggregating(ctx context.Context, ec *Context, plan *planner.Plan, inputs []converter.Item) (*Result, error)
}

// stepReserver lets a policy claim memory before each step. The
// returned release func runs when the step finishes.
type stepReserver func(stepIndex int, inputSize int, converterID string) (release func(), err error)

// callGuard lets a policy serialise calls into non-thread-safe
// converters. The returned func unlocks.
type callGuard func(decl *converter.Decl) (unlock func())

// runner drives the shared step loop for every executor variant.
type runner struct {
	ec      *Context
	reserve stepReserver
	guard   callGuard
}

// run walks the plan's steps over the given carrier items, honouring
// per-port cardinality: non-list ports auto-map over the carrier, list
// inputs aggregate it, list outputs flatten into it. Outputs are stored
// keyed by (step index, port name) so later bindings can reference
// them.
func (r *runner) run(ctx context.Context, plan *planner.Plan, items []converter.Item) ([]converter.Item, Stats, error) {
	start := time.Now()

	peak := itemBytes(items)
	stored := map[planner.Binding][]converter.Item{}
	carrier := items

	var stats Stats
	for i := range plan.Steps {
		step := &plan.Steps[i]

		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			stats.PeakMemory = peak
			return nil, stats, fmt.Errorf("%w: before step %d", ErrCancelled, i)
		}

		conv, ok := r.ec.Registry.Lookup(step.ConverterID)
		if !ok {
			stats.Duration = time.Since(start)
			return nil, stats, &InternalError{Msg: fmt.Sprintf("converter %q is not registered", step.ConverterID)}
		}
		decl := conv.Decl()

		// The permit spans exactly this step.
		var release func()
		if r.reserve != nil {
			var err error
			release, err = r.reserve(i, itemBytes(carrier), step.ConverterID)
			if err != nil {
				stats.Duration = time.Since(start)
				stats.PeakMemory = peak
				return nil, stats, err
			}
		}

		inputs, err := r.gather(step, items, stored, carrier)
		if err != nil {
			if release != nil {
				release()
			}
			stats.Duration = time.Since(start)
			return nil, stats, err
		}

		options := r.ec.Options.Merge(step.Options)

		outputs, err := r.convertStep(ctx, conv, decl, inputs, options)
		if release != nil {
			release()
		}
		if err != nil {
			stats.Duration = time.Since(start)
			stats.PeakMemory = peak
			return nil, stats, &StepError{Step: i, Converter: step.ConverterID, Err: err}
		}

		for port, portItems := range outputs {
			stored[planner.Binding{Step: i, Port: port}] = portItems
		}
		carrier = outputs[step.PrimaryOutput()]
		if len(carrier) == 0 {
			stats.Duration = time.Since(start)
			return nil, stats, &InternalError{
				Msg: fmt.Sprintf("step %d (%s) produced no items on port %q", i, step.ConverterID, step.PrimaryOutput()),
			}
		}

		if b := itemBytes(carrier); b > peak {
			peak = b
		}
		stats.StepsExecuted++
	}

	stats.Duration = time.Since(start)
	stats.PeakMemory = peak
	return carrier, stats, nil
}

// gather resolves each input port binding to its items: the initial
// source, or a prior step's stored output port.
func (r *runner) gather(step *planner.Step, source []converter.Item, stored map[planner.Binding][]converter.Item, carrier []converter.Item) (map[string][]converter.Item, error) {
	inputs := make(map[string][]converter.Item, len(step.Inputs))
	for port, binding := range step.Inputs {
		switch {
		case binding.Step == planner.SourceStep:
			inputs[port] = source
		default:
			items, ok := stored[binding]
			if !ok {
				return nil, &InternalError{
					Msg: fmt.Sprintf("binding for port %q references step %d port %q which produced nothing", port, binding.Step, binding.Port),
				}
			}
			inputs[port] = items
		}
	}
	if len(inputs) == 0 {
		// Steps decoded from older plans may lack bindings; chain from
		// the carrier.
		inputs[""] = carrier
	}
	return inputs, nil
}

// convertStep invokes the converter with the right fan-out for its
// port cardinality and returns the produced items per output port.
func (r *runner) convertStep(ctx context.Context, conv converter.Converter, decl *converter.Decl, gathered map[string][]converter.Item, options property.Properties) (map[string][]converter.Item, error) {
	call := func(payload converter.Payload) (converter.Payload, error) {
		if r.guard != nil {
			unlock := r.guard(decl)
			defer unlock()
		}
		return conv.Convert(ctx, payload, options)
	}

	// Determine the carrier items driving this step: the primary input
	// port's gathered items.
	inputNames := decl.InputNames()
	primaryIn := inputNames[0]
	carrier := gathered[primaryIn]
	if carrier == nil {
		// Unbound ports chain from the generic carrier entry.
		carrier = gathered[""]
	}

	if decl.Inputs[primaryIn].List {
		// Aggregation: the whole carrier feeds one call.
		payload := converter.Payload{primaryIn: carrier}
		r.attachSecondaryInputs(payload, decl, gathered)
		out, err := call(payload)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	// Non-list input: auto-map over the carrier, preserving order.
	outputs := map[string][]converter.Item{}
	for _, item := range carrier {
		payload := converter.Payload{primaryIn: {item}}
		r.attachSecondaryInputs(payload, decl, gathered)
		out, err := call(payload)
		if err != nil {
			return nil, err
		}
		for port, portItems := range out {
			outputs[port] = append(outputs[port], portItems...)
		}
	}
	return outputs, nil
}

// attachSecondaryInputs binds the remaining input ports of a
// multi-input converter from their gathered items.
func (r *runner) attachSecondaryInputs(payload converter.Payload, decl *converter.Decl, gathered map[string][]converter.Item) {
	for _, name := range decl.InputNames() {
		if _, bound := payload[name]; bound {
			continue
		}
		items := gathered[name]
		if decl.Inputs[name].List {
			payload[name] = items
		} else if len(items) > 0 {
			payload[name] = items[:1]
		}
	}
}

func itemBytes(items []converter.Item) int {
	total := 0
	for _, it := range items {
		total += len(it.Data)
	}
	return total
}

func firstResult(items []converter.Item, stats Stats) *Result {
	return &Result{Data: items[0].Data, Props: items[0].Props, Stats: stats}
}

// Sequential runs steps in order on the calling goroutine with no
// memory limit. Suitable for single-file conversions where memory is
// not a concern.
type Sequential struct{}

// NewSequential creates the unbounded sequential executor.
func NewSequential() *Sequential { return &Sequential{} }

// Execute implements Executor.
func (e *Sequential) Execute(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) (*Result, error) {
	results, err := e.ExecuteExpanding(ctx, ec, plan, input, props)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExecuteExpanding implements Executor.
func (e *Sequential) ExecuteExpanding(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) ([]*Result, error) {
	r := runner{ec: ec}
	items, stats, err := r.run(ctx, plan, []converter.Item{{Data: input, Props: props}})
	if err != nil {
		return nil, err
	}
	results := make([]*Result, len(items))
	for i, item := range items {
		results[i] = &Result{Data: item.Data, Props: item.Props, Stats: stats}
	}
	return results, nil
}

// ExecuteBatch implements Executor, running jobs one after another.
func (e *Sequential) ExecuteBatch(ctx context.Context, ec *Context, jobs []Job) []JobResult {
	results := make([]JobResult, len(jobs))
	for i, job := range jobs {
		if err := ctx.Err(); err != nil {
			results[i] = JobResult{Err: ErrCancelled}
			continue
		}
		res, err := e.Execute(ctx, ec, job.Plan, job.Input, job.Props)
		results[i] = JobResult{Result: res, Err: err}
	}
	return results
}

// ExecuteAggregating implements Executor: the carrier starts as the N
// inputs, pre-aggregation steps auto-map over them, the aggregating
// step folds them, and any remaining steps run on the single result.
func (e *Sequential) ExecuteAggregating(ctx context.Context, ec *Context, plan *planner.Plan, inputs []converter.Item) (*Result, error) {
	if plan.Len() == 0 {
		return nil, ErrEmptyPlan
	}
	r := runner{ec: ec}
	items, stats, err := r.run(ctx, plan, inputs)
	if err != nil {
		return nil, err
	}
	return firstResult(items, stats), nil
}
