package executor

import (
	"context"
	"runtime"
	"sync"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
)

// Parallel distributes batch jobs across a fixed-size worker pool
// sharing one memory budget. A worker estimates its job's memory and
// blocks on the budget before running it (backpressure), so observed
// concurrent usage never exceeds the limit. Jobs run whole on one
// worker; within a job, steps stay sequential.
type Parallel struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewParallel creates the parallel batch executor.
func NewParallel() *Parallel {
	return &Parallel{locks: make(map[string]*sync.Mutex)}
}

// guard serialises calls into converters that declare SerializeCalls.
func (e *Parallel) guard(decl *converter.Decl) func() {
	if !decl.SerializeCalls {
		return func() {}
	}
	e.mu.Lock()
	lock, ok := e.locks[decl.ID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[decl.ID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Execute implements Executor; single executions use the bounded
// policy.
func (e *Parallel) Execute(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) (*Result, error) {
	return NewBounded().Execute(ctx, ec, plan, input, props)
}

// ExecuteExpanding implements Executor.
func (e *Parallel) ExecuteExpanding(ctx context.Context, ec *Context, plan *planner.Plan, input []byte, props property.Properties) ([]*Result, error) {
	return NewBounded().ExecuteExpanding(ctx, ec, plan, input, props)
}

// ExecuteAggregating implements Executor.
func (e *Parallel) ExecuteAggregating(ctx context.Context, ec *Context, plan *planner.Plan, inputs []converter.Item) (*Result, error) {
	return NewBounded().ExecuteAggregating(ctx, ec, plan, inputs)
}

// ExecuteBatch implements Executor. Execution order across jobs is
// unspecified, but result order matches input order. Per-job failures
// produce Err entries; on cancellation, in-flight jobs finish and
// not-yet-started jobs report ErrCancelled.
func (e *Parallel) ExecuteBatch(ctx context.Context, ec *Context, jobs []Job) []JobResult {
	workers := ec.Parallelism
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers == 0 {
		return nil
	}

	budget := NewMemoryBudget(ec.MemoryLimit)
	results := make([]JobResult, len(jobs))
	indexes := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				results[i] = e.runJob(ctx, ec, budget, jobs[i])
			}
		}()
	}

	for i := range jobs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	return results
}

func (e *Parallel) runJob(ctx context.Context, ec *Context, budget *MemoryBudget, job Job) JobResult {
	if err := ctx.Err(); err != nil {
		return JobResult{Err: ErrCancelled}
	}

	estimated := Estimate(len(job.Input), job.Plan)
	permit, err := budget.Reserve(ctx, estimated)
	if err != nil {
		return JobResult{Err: err}
	}
	defer permit.Release()

	r := runner{ec: ec, guard: e.guard}
	items, stats, err := r.run(ctx, job.Plan, []converter.Item{{Data: job.Input, Props: job.Props}})
	if err != nil {
		return JobResult{Err: err}
	}
	return JobResult{Result: firstResult(items, stats)}
}
