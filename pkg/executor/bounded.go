package executor

import (
	"context"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
)

// Bounded runs steps sequentially but reserves each step's estimated
// peak memory against the context's limit before running it. A step
// that does not fit fails fast with a MemoryLimitError instead of
// waiting; callers in bounded mode do not retry.
type Bounded struct{}

// NewBounded creates the fail-fast bounded executor.
func NewBounded() *Bounded { return &Bounded{} }

func (e *Bounded) runner(ec *Context) runner {
	budget := NewMemoryBudget(ec.MemoryLimit)
	return runner{
		ec: ec,
		reserve: func(stepIndex, inputSize int, converterID string) (func(), error) {
			needed := EstimateStep(inputSize, converterID)
			permit := budget.TryReserve(needed)
			if permit == nil {
				return nil, &MemoryLimitError{Needed: needed, Limit: budget.Limit()}
			}
			return permit.Release, nil
		},
	}
}

// Execute implements Executor.
func (e *Bounded) Execute(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) (*Result, error) {
	results, err := e.ExecuteExpanding(ctx, ec, plan, input, props)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExecuteExpanding implements Executor.
func (e *Bounded) ExecuteExpanding(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) ([]*Result, error) {
	r := e.runner(ec)
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
func (e *Bounded) ExecuteBatch(ctx context.Context, ec *Context, jobs []Job) []JobResult {
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

// ExecuteAggregating implements Executor.
func (e *Bounded) ExecuteAggregating(ctx context.Context, ec *Context, plan *planner.Plan, inputs []converter.Item) (*Result, error) {
	if plan.Len() == 0 {
		return nil, ErrEmptyPlan
	}
	r := e.runner(ec)
	items, stats, err := r.run(ctx, plan, inputs)
	if err != nil {
		return nil, err
	}
	return firstResult(items, stats), nil
}
