package transmute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/converters/serde"
	"github.com/aretw0/transmute/pkg/executor"
	"github.com/aretw0/transmute/pkg/orchestrator"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/plugin"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/registry"
)

// PlanCache stores computed plans keyed by request signature. The redis
// adapter implements it; any other store can too.
type PlanCache interface {
	Get(ctx context.Context, signature string) (*planner.Plan, error)
	Put(ctx context.Context, signature string, plan *planner.Plan) error
}

// Engine is the high-level entry point for the Transmute library. It
// bundles a registry, a planner configuration and an executor behind a
// simplified API for consumers.
type Engine struct {
	registry   *registry.Registry
	exec       executor.Executor
	ec         *executor.Context
	maxDepth   int
	objective  planner.Objective
	cache      PlanCache
	logger     *slog.Logger
	projectDir string
	noPlugins  bool
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithRegistry injects a pre-built registry, bypassing the default
// built-ins and plug-in discovery.
func WithRegistry(reg *registry.Registry) Option {
	return func(e *Engine) {
		e.registry = reg
	}
}

// WithExecutor selects the execution policy (default: sequential).
func WithExecutor(exec executor.Executor) Option {
	return func(e *Engine) {
		e.exec = exec
	}
}

// WithMemoryLimit bounds execution memory in bytes.
func WithMemoryLimit(bytes int) Option {
	return func(e *Engine) {
		e.ec.MemoryLimit = bytes
	}
}

// WithParallelism sizes the batch worker pool.
func WithParallelism(workers int) Option {
	return func(e *Engine) {
		e.ec.Parallelism = workers
	}
}

// WithMaxDepth bounds the planner's search depth.
func WithMaxDepth(depth int) Option {
	return func(e *Engine) {
		e.maxDepth = depth
	}
}

// WithObjective selects the cost scalar plans are optimised for.
func WithObjective(o planner.Objective) Option {
	return func(e *Engine) {
		e.objective = o
	}
}

// WithPlanCache caches computed plans between requests.
func WithPlanCache(cache PlanCache) Option {
	return func(e *Engine) {
		e.cache = cache
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithProjectDir sets the directory searched for project-local
// plug-ins (default: current directory).
func WithProjectDir(dir string) Option {
	return func(e *Engine) {
		e.projectDir = dir
	}
}

// WithoutPlugins disables plug-in discovery for the default registry.
func WithoutPlugins() Option {
	return func(e *Engine) {
		e.noPlugins = true
	}
}

// New initialises a Transmute Engine. Without WithRegistry it builds
// the default registry: built-in converters plus discovered plug-ins;
// a broken plug-in fails construction.
func New(opts ...Option) (*Engine, error) {
	eng := &Engine{
		ec:         &executor.Context{},
		maxDepth:   planner.DefaultMaxDepth,
		objective:  planner.ObjectiveSteps,
		projectDir: ".",
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Ensure logger is initialized so downstream components never see nil.
	if eng.logger == nil {
		eng.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if eng.registry == nil {
		reg := registry.New()
		if err := serde.RegisterAll(reg); err != nil {
			return nil, fmt.Errorf("register built-ins: %w", err)
		}
		if !eng.noPlugins {
			loader := plugin.NewLoader(eng.logger)
			if err := loader.LoadAll(reg, eng.projectDir); err != nil {
				return nil, err
			}
		}
		eng.registry = reg
	}

	if eng.exec == nil {
		eng.exec = executor.NewSequential()
	}

	eng.ec.Registry = eng.registry
	eng.ec.Logger = eng.logger

	return eng, nil
}

// Registry returns the engine's converter registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Converters enumerates the registered declarations.
func (e *Engine) Converters() []*converter.Decl { return e.registry.Decls() }

// Plan finds a conversion path from the source state to the target
// pattern. Plans are served from the configured cache when possible.
func (e *Engine) Plan(ctx context.Context, source property.Properties, target property.Pattern, from, to planner.Cardinality) (*planner.Plan, error) {
	var signature string
	if e.cache != nil {
		signature = planner.RequestSignature(source, target, e.objective, from, to)
		if plan, err := e.cache.Get(ctx, signature); err == nil {
			e.logger.Debug("plan cache hit", "signature", signature)
			return plan, nil
		} else if !isCacheMiss(err) {
			e.logger.Warn("plan cache unavailable", "err", err)
		}
	}

	p := planner.New(e.registry,
		planner.WithMaxDepth(e.maxDepth),
		planner.WithObjective(e.objective),
		planner.WithLogger(e.logger))

	plan, err := p.Plan(source, target, from, to)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Put(ctx, signature, plan); err != nil {
			e.logger.Warn("plan cache write failed", "err", err)
		}
	}
	return plan, nil
}

// Convert plans and executes a one-to-one conversion.
func (e *Engine) Convert(ctx context.Context, input []byte, props property.Properties, target property.Pattern) (*executor.Result, error) {
	plan, err := e.Plan(ctx, props, target, planner.One, planner.One)
	if err != nil {
		return nil, err
	}
	return e.exec.Execute(ctx, e.ec, plan, input, props)
}

// ConvertAll plans once from the first item's state and realises the
// plan over every item with the requested output cardinality.
func (e *Engine) ConvertAll(ctx context.Context, items []converter.Item, target property.Pattern, to planner.Cardinality) ([]orchestrator.ItemResult, error) {
	if len(items) == 0 {
		return nil, errors.New("no inputs")
	}
	from := planner.Many
	if len(items) == 1 {
		from = planner.One
	}
	plan, err := e.Plan(ctx, items[0].Props, target, from, to)
	if err != nil {
		return nil, err
	}
	orch := orchestrator.New(e.exec, e.ec, orchestrator.WithLogger(e.logger))
	return orch.Run(ctx, plan, items, to)
}

// SetConvertOptions sets the options bag passed to every converter
// call, under step-bound options.
func (e *Engine) SetConvertOptions(opts property.Properties) {
	e.ec.Options = opts
}

// RunPlan realises an already-computed plan over the carrier items with
// the requested output cardinality.
func (e *Engine) RunPlan(ctx context.Context, plan *planner.Plan, items []converter.Item, to planner.Cardinality) ([]orchestrator.ItemResult, error) {
	orch := orchestrator.New(e.exec, e.ec, orchestrator.WithLogger(e.logger))
	return orch.Run(ctx, plan, items, to)
}

// Execute runs an already-computed plan on one input.
func (e *Engine) Execute(ctx context.Context, plan *planner.Plan, input []byte, props property.Properties) (*executor.Result, error) {
	return e.exec.Execute(ctx, e.ec, plan, input, props)
}

// ExecuteBatch runs an already-computed plan over independent jobs.
func (e *Engine) ExecuteBatch(ctx context.Context, jobs []executor.Job) []executor.JobResult {
	return e.exec.ExecuteBatch(ctx, e.ec, jobs)
}

func isCacheMiss(err error) bool {
	return errors.Is(err, planner.ErrNoCachedPlan)
}
