package planner

import (
	"container/heap"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aretw0/transmute/internal/logging"
	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/registry"
)

// DefaultMaxDepth bounds the search when no depth is configured.
const DefaultMaxDepth = 16

// NoPathError reports an exhausted search. Closest carries the state
// nearest the target that the search reached, for diagnostics.
type NoPathError struct {
	From    property.Properties
	To      property.Pattern
	Closest property.Properties
}

func (e *NoPathError) Error() string {
	return fmt.Sprintf("no conversion path from %s to %s", e.From, e.To)
}

// Planner finds conversion paths through a registry.
type Planner struct {
	reg       *registry.Registry
	maxDepth  int
	objective Objective
	logger    *slog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithMaxDepth bounds the number of steps a plan may have.
func WithMaxDepth(depth int) Option {
	return func(p *Planner) {
		p.maxDepth = depth
	}
}

// WithObjective selects the scalar the search minimises.
func WithObjective(o Objective) Option {
	return func(p *Planner) {
		p.objective = o
	}
}

// WithLogger sets a structured logger for search diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New creates a planner over the given registry.
func New(reg *registry.Registry, opts ...Option) *Planner {
	p := &Planner{
		reg:       reg,
		maxDepth:  DefaultMaxDepth,
		objective: ObjectiveSteps,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// searchNode is one state in the frontier.
type searchNode struct {
	props property.Properties
	card  Cardinality
	steps []Step
	g     float64 // cost so far
	f     float64 // g + heuristic
	path  string  // converter ids joined, for the lexicographic tie-break
	seq   int     // insertion order, final tie-break for heap stability
}

type frontier []*searchNode

func (f frontier) Len() int { return len(f) }

func (f frontier) Less(i, j int) bool {
	a, b := f[i], f[j]
	if a.f != b.f {
		return a.f < b.f
	}
	if len(a.steps) != len(b.steps) {
		return len(a.steps) < len(b.steps)
	}
	if a.path != b.path {
		return a.path < b.path
	}
	return a.seq < b.seq
}

func (f frontier) Swap(i, j int) { f[i], f[j] = f[j], f[i] }

func (f *frontier) Push(x any) { *f = append(*f, x.(*searchNode)) }

func (f *frontier) Pop() any {
	old := *f
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	*f = old[:n-1]
	return node
}

// Plan searches for a conversion path from the source state to a state
// matching the target pattern with the requested cardinality.
//
// The search is best-first over (Properties, Cardinality) states. Ties
// between equal-cost paths break on fewer steps, then lexicographic
// converter ids, so identical inputs always yield identical plans.
func (p *Planner) Plan(source property.Properties, target property.Pattern, from, to Cardinality) (*Plan, error) {
	relevant := p.reg.RelevantKeys(target.Keys()...)

	if target.Matches(source) && from == to {
		return &Plan{Final: source.Clone(), Cardinality: to}, nil
	}

	var (
		open    frontier
		seq     int
		visited = map[string]struct{}{}
	)
	heap.Init(&open)

	start := &searchNode{
		props: source.Clone(),
		card:  from,
		f:     p.heuristic(source, target),
	}
	heap.Push(&open, start)

	closest := source.Clone()
	closestMisses := target.Unsatisfied(source)

	for open.Len() > 0 {
		current := heap.Pop(&open).(*searchNode)

		key := stateKey(current.props, current.card, relevant)
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}

		if misses := target.Unsatisfied(current.props); misses < closestMisses {
			closestMisses = misses
			closest = current.props.Clone()
		}

		if target.Matches(current.props) && current.card == to {
			p.logger.Debug("plan found",
				"steps", len(current.steps),
				"cost", current.g,
				"visited", len(visited))
			return &Plan{
				Steps:       current.steps,
				Cost:        current.g,
				Final:       current.props,
				Cardinality: current.card,
			}, nil
		}

		if len(current.steps) >= p.maxDepth {
			continue
		}

		for _, decl := range p.reg.Decls() {
			next := p.apply(decl, current, target)
			if next == nil {
				continue
			}
			if _, seen := visited[stateKey(next.props, next.card, relevant)]; seen {
				continue
			}
			next.f = next.g + p.heuristic(next.props, target)
			seq++
			next.seq = seq
			heap.Push(&open, next)
		}
	}

	return nil, &NoPathError{From: source.Clone(), To: target, Closest: closest}
}

// apply attempts one converter transition from the current state.
// Returns nil when the converter's ports or cardinality do not fit.
func (p *Planner) apply(decl *converter.Decl, current *searchNode, target property.Pattern) *searchNode {
	if !decl.MatchesInputs(current.props) {
		return nil
	}

	var nextCard Cardinality
	switch {
	case current.card == One && decl.Aggregates():
		// A single item cannot feed a list input.
		return nil
	case current.card == One:
		if decl.Expands() {
			nextCard = Many
		} else {
			nextCard = One
		}
	case decl.Aggregates():
		if decl.Expands() {
			nextCard = Many // N→M reshape
		} else {
			nextCard = One // N→1 aggregation
		}
	default:
		// Auto-mapped over the batch; expansion keeps it Many.
		nextCard = Many
	}

	primary, _ := decl.PrimaryOutput()
	outputs := make(map[string]property.Properties, len(decl.Outputs))
	for _, port := range decl.OutputNames() {
		outputs[port] = decl.Apply(current.props, port)
	}

	// Bind option-produced keys to values the target constrains them to,
	// so the predicted state reflects what execution will produce.
	var options property.Properties
	for _, key := range decl.ProducesFromOptions {
		pred, constrained := target[key]
		if !constrained {
			continue
		}
		v, ok := pred.SuggestValue()
		if !ok {
			continue
		}
		if options == nil {
			options = property.New()
		}
		options[key] = v
		for port := range outputs {
			outputs[port][key] = v
		}
	}

	inputs := make(map[string]Binding, len(decl.Inputs))
	for _, port := range decl.InputNames() {
		inputs[port] = p.chainBinding(current)
	}

	step := Step{
		ConverterID: decl.ID,
		Inputs:      inputs,
		Outputs:     outputs,
		Options:     options,
	}

	steps := make([]Step, 0, len(current.steps)+1)
	steps = append(steps, current.steps...)
	steps = append(steps, step)

	path := current.path
	if path != "" {
		path += "\x00"
	}
	path += decl.ID

	return &searchNode{
		props: outputs[primary],
		card:  nextCard,
		steps: steps,
		g:     current.g + p.objective.stepCost(decl),
		path:  path,
	}
}

// chainBinding binds an input port to the previous step's primary
// output, or to the initial source for the first step.
func (p *Planner) chainBinding(current *searchNode) Binding {
	if len(current.steps) == 0 {
		return Binding{Step: SourceStep}
	}
	prev := len(current.steps) - 1
	return Binding{Step: prev, Port: current.steps[prev].PrimaryOutput()}
}

// heuristic estimates remaining cost. Any state with unsatisfied target
// keys needs at least one more transition; under the steps objective
// that transition costs exactly 1, so the estimate stays admissible.
// Cost objectives admit zero-cost steps, so they take no credit at all.
func (p *Planner) heuristic(props property.Properties, target property.Pattern) float64 {
	if p.objective != ObjectiveSteps {
		return 0
	}
	if target.Unsatisfied(props) > 0 {
		return 1
	}
	return 0
}

func stateKey(props property.Properties, card Cardinality, relevant []string) string {
	var sb strings.Builder
	sb.WriteString(props.Signature(relevant))
	sb.WriteByte(':')
	sb.WriteString(card.String())
	return sb.String()
}
