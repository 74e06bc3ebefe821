// Package orchestrator sits between callers and executors and applies
// the cardinality rules: 1→1 converters auto-map over lists, list
// inputs aggregate, list outputs expand into the downstream carrier.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/transmute/internal/logging"
	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/executor"
	"github.com/aretw0/transmute/pkg/planner"
)

// ItemResult pairs a carrier item with its per-item outcome. Failed
// items carry an error; the run as a whole continues (partial-failure
// policy of batch execution).
type ItemResult struct {
	Item  converter.Item
	Stats executor.Stats
	Err   error
}

// Orchestrator realises plans through an executor.
type Orchestrator struct {
	exec   executor.Executor
	ec     *executor.Context
	logger *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator running plans on the given executor.
func New(exec executor.Executor, ec *executor.Context, opts ...Option) *Orchestrator {
	o := &Orchestrator{exec: exec, ec: ec, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run realises a plan over the carrier items, honouring the requested
// output cardinality. Per-item failures during fan-out are reported in
// the result entries; structural failures (aggregation, cancellation)
// fail the run.
func (o *Orchestrator) Run(ctx context.Context, plan *planner.Plan, items []converter.Item, want planner.Cardinality) ([]ItemResult, error) {
	switch {
	case want == planner.One && len(items) == 1 && !o.planAggregates(plan):
		res, err := o.exec.Execute(ctx, o.ec, plan, items[0].Data, items[0].Props)
		if err != nil {
			return nil, err
		}
		return []ItemResult{{Item: converter.Item{Data: res.Data, Props: res.Props}, Stats: res.Stats}}, nil

	case want == planner.One:
		res, err := o.exec.ExecuteAggregating(ctx, o.ec, plan, items)
		if err != nil {
			return nil, err
		}
		return []ItemResult{{Item: converter.Item{Data: res.Data, Props: res.Props}, Stats: res.Stats}}, nil

	case len(items) == 1 && o.planExpands(plan):
		results, err := o.exec.ExecuteExpanding(ctx, o.ec, plan, items[0].Data, items[0].Props)
		if err != nil {
			return nil, err
		}
		out := make([]ItemResult, len(results))
		for i, res := range results {
			out[i] = ItemResult{Item: converter.Item{Data: res.Data, Props: res.Props}, Stats: res.Stats}
		}
		return out, nil

	default:
		// Auto-map the plan over every item, preserving order.
		jobs := make([]executor.Job, len(items))
		for i, item := range items {
			jobs[i] = executor.Job{Plan: plan, Input: item.Data, Props: item.Props}
		}
		batch := o.exec.ExecuteBatch(ctx, o.ec, jobs)
		out := make([]ItemResult, len(batch))
		failed := 0
		for i, jr := range batch {
			if jr.Err != nil {
				failed++
				out[i] = ItemResult{Err: jr.Err}
				continue
			}
			out[i] = ItemResult{
				Item:  converter.Item{Data: jr.Result.Data, Props: jr.Result.Props},
				Stats: jr.Result.Stats,
			}
		}
		if failed > 0 {
			o.logger.Warn("batch finished with failures",
				"failed", failed, "total", len(batch))
		}
		return out, nil
	}
}

// Convert runs a 1→1 plan on a single item.
func (o *Orchestrator) Convert(ctx context.Context, plan *planner.Plan, item converter.Item) (*executor.Result, error) {
	return o.exec.Execute(ctx, o.ec, plan, item.Data, item.Props)
}

// Aggregate folds N items into one output through an aggregating plan.
func (o *Orchestrator) Aggregate(ctx context.Context, plan *planner.Plan, items []converter.Item) (*executor.Result, error) {
	if !o.planAggregates(plan) {
		return nil, fmt.Errorf("plan %v has no aggregating step", plan.ConverterIDs())
	}
	return o.exec.ExecuteAggregating(ctx, o.ec, plan, items)
}

// Expand runs a 1→N plan on a single item and returns every output.
func (o *Orchestrator) Expand(ctx context.Context, plan *planner.Plan, item converter.Item) ([]*executor.Result, error) {
	return o.exec.ExecuteExpanding(ctx, o.ec, plan, item.Data, item.Props)
}

func (o *Orchestrator) planAggregates(plan *planner.Plan) bool {
	for _, step := range plan.Steps {
		if decl, ok := o.ec.Registry.Decl(step.ConverterID); ok && decl.Aggregates() {
			return true
		}
	}
	return false
}

func (o *Orchestrator) planExpands(plan *planner.Plan) bool {
	for _, step := range plan.Steps {
		if decl, ok := o.ec.Registry.Decl(step.ConverterID); ok && decl.Expands() {
			return true
		}
	}
	return false
}
