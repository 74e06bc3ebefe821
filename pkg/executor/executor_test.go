package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/registry"
)

// relabel is a test converter that rewrites the format property and
// passes bytes through.
type relabel struct {
	decl *converter.Decl
	to   string
	// optional hooks for tests
	onConvert func()
	fail      error
}

func newRelabel(id, from, to string) *relabel {
	return &relabel{
		decl: converter.Simple(id,
			property.NewPattern().WithEq("format", from),
			property.NewPattern().WithEq("format", to)),
		to: to,
	}
}

func (c *relabel) Decl() *converter.Decl { return c.decl }

func (c *relabel) Convert(ctx context.Context, inputs converter.Payload, options property.Properties) (converter.Payload, error) {
	if c.onConvert != nil {
		c.onConvert()
	}
	if c.fail != nil {
		return nil, c.fail
	}
	in := inputs["in"][0]
	props := in.Props.Clone()
	props["format"] = property.String(c.to)
	return converter.Single("out", in.Data, props), nil
}

// splitter expands one input into n outputs.
type splitter struct {
	decl *converter.Decl
	n    int
}

func newSplitter(id, from, to string, n int) *splitter {
	return &splitter{
		decl: converter.NewDecl(id).
			WithInput("in", converter.SinglePort(property.NewPattern().WithEq("format", from))).
			WithOutput("out", converter.ListPort(property.NewPattern().WithEq("format", to))),
		n: n,
	}
}

func (c *splitter) Decl() *converter.Decl { return c.decl }

func (c *splitter) Convert(ctx context.Context, inputs converter.Payload, options property.Properties) (converter.Payload, error) {
	in := inputs["in"][0]
	out := make([]converter.Item, c.n)
	toFormat, _ := c.decl.Outputs["out"].Pattern["format"].ExactValue()
	for i := range out {
		props := in.Props.Clone()
		props["format"] = toFormat
		props["index"] = property.Int(int64(i))
		out[i] = converter.Item{
			Data:  []byte(fmt.Sprintf("%s:part%d", in.Data, i)),
			Props: props,
		}
	}
	return converter.Payload{"out": out}, nil
}

// bundler aggregates all items on its list input into one output.
type bundler struct {
	decl *converter.Decl
}

func newBundler(id, from, to string) *bundler {
	return &bundler{
		decl: converter.NewDecl(id).
			WithInput("items", converter.ListPort(property.NewPattern().WithEq("format", from))).
			WithOutput("out", converter.SinglePort(property.NewPattern().WithEq("format", to))),
	}
}

func (c *bundler) Decl() *converter.Decl { return c.decl }

func (c *bundler) Convert(ctx context.Context, inputs converter.Payload, options property.Properties) (converter.Payload, error) {
	items := inputs["items"]
	parts := make([][]byte, len(items))
	for i, it := range items {
		parts[i] = it.Data
	}
	toFormat, _ := c.decl.Outputs["out"].Pattern["format"].ExactValue()
	props := property.New().With("count", len(items))
	props["format"] = toFormat
	return converter.Single("out", bytes.Join(parts, []byte("|")), props), nil
}

func chainPlan(decls ...*converter.Decl) *planner.Plan {
	steps := make([]planner.Step, len(decls))
	var final property.Properties
	for i, decl := range decls {
		binding := planner.Binding{Step: planner.SourceStep}
		if i > 0 {
			binding = planner.Binding{Step: i - 1, Port: steps[i-1].PrimaryOutput()}
		}
		inputs := map[string]planner.Binding{}
		for _, name := range decl.InputNames() {
			inputs[name] = binding
		}
		outputs := map[string]property.Properties{}
		for _, name := range decl.OutputNames() {
			outputs[name] = decl.Apply(property.New(), name)
		}
		steps[i] = planner.Step{ConverterID: decl.ID, Inputs: inputs, Outputs: outputs}
		final = outputs[steps[i].PrimaryOutput()]
	}
	return &planner.Plan{Steps: steps, Cost: float64(len(decls)), Final: final}
}

func testContext(t *testing.T, convs ...converter.Converter) *Context {
	t.Helper()
	reg := registry.New()
	for _, c := range convs {
		require.NoError(t, reg.Register(c))
	}
	return NewContext(reg)
}

func TestSequentialChain(t *testing.T) {
	ab := newRelabel("fmt.a-to-b", "a", "b")
	bc := newRelabel("fmt.b-to-c", "b", "c")
	ec := testContext(t, ab, bc)

	plan := chainPlan(ab.decl, bc.decl)
	input := []byte("test data")

	res, err := NewSequential().Execute(context.Background(), ec, plan, input,
		property.New().With("format", "a"))
	require.NoError(t, err)

	assert.Equal(t, input, res.Data)
	assert.Equal(t, "c", res.Props.GetString("format"))
	assert.Equal(t, 2, res.Stats.StepsExecuted)
	assert.GreaterOrEqual(t, res.Stats.PeakMemory, len(input))
}

func TestSequentialEmptyPlanReturnsInput(t *testing.T) {
	ec := testContext(t)
	props := property.New().With("format", "a")

	res, err := NewSequential().Execute(context.Background(), ec, &planner.Plan{}, []byte("x"), props)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), res.Data)
	assert.True(t, props.Equal(res.Props))
	assert.Equal(t, 0, res.Stats.StepsExecuted)
}

func TestSequentialMissingConverter(t *testing.T) {
	ec := testContext(t)
	plan := chainPlan(converter.Simple("fmt.ghost",
		property.NewPattern().WithEq("format", "a"),
		property.NewPattern().WithEq("format", "b")))

	_, err := NewSequential().Execute(context.Background(), ec, plan, []byte("x"),
		property.New().With("format", "a"))

	var internal *InternalError
	assert.ErrorAs(t, err, &internal)
}

func TestSequentialStepErrorCarriesContext(t *testing.T) {
	ab := newRelabel("fmt.a-to-b", "a", "b")
	ab.fail = converter.InvalidInput("fmt.a-to-b", "corrupt header", nil)
	ec := testContext(t, ab)

	_, err := NewSequential().Execute(context.Background(), ec, chainPlan(ab.decl),
		[]byte("x"), property.New().With("format", "a"))

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 0, stepErr.Step)
	assert.Equal(t, "fmt.a-to-b", stepErr.Converter)

	var convErr *converter.Error
	require.ErrorAs(t, err, &convErr)
	assert.Equal(t, converter.KindInvalidInput, convErr.Kind)
}

func TestExecuteExpanding(t *testing.T) {
	split := newSplitter("archive.unpack", "archive", "file", 3)
	ec := testContext(t, split)

	results, err := NewSequential().ExecuteExpanding(context.Background(), ec,
		chainPlan(split.decl), []byte("content"), property.New().With("format", "archive"))
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i, res := range results {
		assert.Contains(t, string(res.Data), fmt.Sprintf("part%d", i))
		idx, _ := res.Props.GetInt64("index")
		assert.Equal(t, int64(i), idx)
	}
}

func TestExpansionFlowsThroughChain(t *testing.T) {
	split := newSplitter("archive.unpack", "archive", "raw", 2)
	fix := newRelabel("fmt.raw-to-done", "raw", "done")
	ec := testContext(t, split, fix)

	results, err := NewSequential().ExecuteExpanding(context.Background(), ec,
		chainPlan(split.decl, fix.decl), []byte("data"), property.New().With("format", "archive"))
	require.NoError(t, err)

	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, "done", res.Props.GetString("format"))
	}
}

func TestExecuteAggregating(t *testing.T) {
	bundle := newBundler("archive.bundle", "item", "bundle")
	ec := testContext(t, bundle)

	inputs := []converter.Item{
		{Data: []byte("one"), Props: property.New().With("format", "item")},
		{Data: []byte("two"), Props: property.New().With("format", "item")},
		{Data: []byte("three"), Props: property.New().With("format", "item")},
	}

	res, err := NewSequential().ExecuteAggregating(context.Background(), ec,
		chainPlan(bundle.decl), inputs)
	require.NoError(t, err)

	assert.Equal(t, "one|two|three", string(res.Data))
	count, _ := res.Props.GetInt64("count")
	assert.Equal(t, int64(3), count)
}

func TestExecuteAggregatingWithPreAndPostSteps(t *testing.T) {
	// raw -> item per input, aggregate, then bundle -> sealed.
	pre := newRelabel("fmt.raw-to-item", "raw", "item")
	bundle := newBundler("archive.bundle", "item", "bundle")
	post := newRelabel("fmt.bundle-to-sealed", "bundle", "sealed")
	ec := testContext(t, pre, bundle, post)

	inputs := []converter.Item{
		{Data: []byte("a"), Props: property.New().With("format", "raw")},
		{Data: []byte("b"), Props: property.New().With("format", "raw")},
	}

	res, err := NewSequential().ExecuteAggregating(context.Background(), ec,
		chainPlan(pre.decl, bundle.decl, post.decl), inputs)
	require.NoError(t, err)

	assert.Equal(t, "a|b", string(res.Data))
	assert.Equal(t, "sealed", res.Props.GetString("format"))
}

func TestExecuteAggregatingEmptyPlan(t *testing.T) {
	ec := testContext(t)
	_, err := NewSequential().ExecuteAggregating(context.Background(), ec, &planner.Plan{}, nil)
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestBoundedWithinLimit(t *testing.T) {
	ab := newRelabel("fmt.a-to-b", "a", "b")
	ec := testContext(t, ab).WithMemoryLimit(1000)

	_, err := NewBounded().Execute(context.Background(), ec, chainPlan(ab.decl),
		[]byte("small"), property.New().With("format", "a"))
	assert.NoError(t, err)
}

func TestBoundedExactFit(t *testing.T) {
	ab := newRelabel("fmt.a-to-b", "a", "b")
	input := []byte("0123456789")
	ec := testContext(t, ab).WithMemoryLimit(len(input))

	_, err := NewBounded().Execute(context.Background(), ec, chainPlan(ab.decl),
		input, property.New().With("format", "a"))
	assert.NoError(t, err)
}

func TestBoundedExceedsLimit(t *testing.T) {
	ab := newRelabel("fmt.a-to-b", "a", "b")
	ec := testContext(t, ab).WithMemoryLimit(4)

	_, err := NewBounded().Execute(context.Background(), ec, chainPlan(ab.decl),
		[]byte("this is too large"), property.New().With("format", "a"))

	var limitErr *MemoryLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 4, limitErr.Limit)
	assert.Greater(t, limitErr.Needed, limitErr.Limit)
}

func TestCancellationSkipsRemainingSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	ab := newRelabel("fmt.a-to-b", "a", "b")
	bc := newRelabel("fmt.b-to-c", "b", "c")
	cd := newRelabel("fmt.c-to-d", "c", "d")
	de := newRelabel("fmt.d-to-e", "d", "e")

	// Cancel while step index 1 is in flight.
	bc.onConvert = cancel

	var laterSteps atomic.Int32
	probe := func() { laterSteps.Add(1) }
	cd.onConvert = probe
	de.onConvert = probe

	ec := testContext(t, ab, bc, cd, de)
	_, err := NewSequential().Execute(ctx, ec,
		chainPlan(ab.decl, bc.decl, cd.decl, de.decl),
		[]byte("x"), property.New().With("format", "a"))

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, int32(0), laterSteps.Load())
}

func TestParallelBatchOrderAndCompletion(t *testing.T) {
	ab := newRelabel("fmt.a-to-b", "a", "b")
	ec := testContext(t, ab).WithParallelism(8)

	plan := chainPlan(ab.decl)
	const n = 100
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{
			Plan:  plan,
			Input: []byte(fmt.Sprintf("job-%03d", i)),
			Props: property.New().With("format", "a"),
		}
	}

	results := NewParallel().ExecuteBatch(context.Background(), ec, jobs)

	require.Len(t, results, n)
	for i, jr := range results {
		require.NoError(t, jr.Err, "job %d", i)
		assert.Equal(t, fmt.Sprintf("job-%03d", i), string(jr.Result.Data))
	}
}

func TestParallelBatchRespectsBudget(t *testing.T) {
	const jobSize = 100

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	ab := newRelabel("fmt.a-to-b", "a", "b")
	ab.onConvert = func() {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	// Budget admits at most two concurrent jobs.
	ec := testContext(t, ab).WithParallelism(8).WithMemoryLimit(2 * jobSize)

	plan := chainPlan(ab.decl)
	jobs := make([]Job, 20)
	for i := range jobs {
		jobs[i] = Job{Plan: plan, Input: bytes.Repeat([]byte("x"), jobSize), Props: property.New().With("format", "a")}
	}

	results := NewParallel().ExecuteBatch(context.Background(), ec, jobs)
	for _, jr := range results {
		require.NoError(t, jr.Err)
	}
	assert.LessOrEqual(t, peak, 2)
}

func TestParallelBatchPartialFailure(t *testing.T) {
	good := newRelabel("fmt.a-to-b", "a", "b")
	ec := testContext(t, good)

	okPlan := chainPlan(good.decl)
	badPlan := chainPlan(converter.Simple("fmt.ghost",
		property.NewPattern().WithEq("format", "a"),
		property.NewPattern().WithEq("format", "b")))

	jobs := []Job{
		{Plan: okPlan, Input: []byte("1"), Props: property.New().With("format", "a")},
		{Plan: badPlan, Input: []byte("2"), Props: property.New().With("format", "a")},
		{Plan: okPlan, Input: []byte("3"), Props: property.New().With("format", "a")},
	}

	results := NewParallel().ExecuteBatch(context.Background(), ec, jobs)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}

func TestParallelBatchOversizedJobFails(t *testing.T) {
	ab := newRelabel("fmt.a-to-b", "a", "b")
	ec := testContext(t, ab).WithMemoryLimit(4)

	jobs := []Job{{
		Plan:  chainPlan(ab.decl),
		Input: []byte("far too large for the budget"),
		Props: property.New().With("format", "a"),
	}}

	results := NewParallel().ExecuteBatch(context.Background(), ec, jobs)
	var limitErr *MemoryLimitError
	assert.ErrorAs(t, results[0].Err, &limitErr)
}

func TestParallelSerializesMarkedConverters(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	ab := newRelabel("fmt.a-to-b", "a", "b")
	ab.decl.SerializeCalls = true
	ab.onConvert = func() {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}

	ec := testContext(t, ab).WithParallelism(8)
	plan := chainPlan(ab.decl)
	jobs := make([]Job, 16)
	for i := range jobs {
		jobs[i] = Job{Plan: plan, Input: []byte("x"), Props: property.New().With("format", "a")}
	}

	results := NewParallel().ExecuteBatch(context.Background(), ec, jobs)
	for _, jr := range results {
		require.NoError(t, jr.Err)
	}
	assert.Equal(t, 1, peak)
}

func TestBatchCancellationSkipsUnstartedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var started atomic.Int32
	slow := newRelabel("fmt.a-to-b", "a", "b")
	slow.onConvert = func() {
		if started.Add(1) == 1 {
			cancel()
			time.Sleep(10 * time.Millisecond)
		}
	}

	ec := testContext(t, slow).WithParallelism(1)
	plan := chainPlan(slow.decl)
	jobs := make([]Job, 5)
	for i := range jobs {
		jobs[i] = Job{Plan: plan, Input: []byte("x"), Props: property.New().With("format", "a")}
	}

	results := NewSequential().ExecuteBatch(ctx, ec, jobs)

	cancelled := 0
	for _, jr := range results {
		if errors.Is(jr.Err, ErrCancelled) {
			cancelled++
		}
	}
	assert.GreaterOrEqual(t, cancelled, 3)
	assert.LessOrEqual(t, int(started.Load()), 2)
}
