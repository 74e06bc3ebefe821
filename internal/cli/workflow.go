package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/transmute"
	"github.com/aretw0/transmute/internal/config"
	"github.com/aretw0/transmute/pkg/converter"
	opts "github.com/aretw0/transmute/pkg/options"
	"github.com/aretw0/transmute/pkg/orchestrator"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/workflow"
)

// RunWorkflow loads, plans if necessary, and executes a workflow file.
func RunWorkflow(ctx context.Context, eng *transmute.Engine, cfg *config.Config, path string, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	w, err := workflow.Parse(data, path)
	if err != nil {
		return err
	}
	if err := w.Validate(); err != nil {
		return fmt.Errorf("invalid workflow %s: %w", path, err)
	}

	// Preset options sit under workflow options; both flow to every
	// converter call.
	options := w.Options
	if w.Preset != "" {
		preset, err := cfg.Preset(w.Preset)
		if err != nil {
			return err
		}
		options = preset.MergeOptions(options)
	}
	if len(options) > 0 {
		props, err := property.FromMap(options)
		if err != nil {
			return fmt.Errorf("workflow options: %w", err)
		}
		if err := opts.ValidateNormalized(props); err != nil {
			return fmt.Errorf("workflow options: %w", err)
		}
		eng.SetConvertOptions(props)
	}

	items, err := collectInputs(w.Source)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("source matched no files")
	}

	target, err := w.Sink.ToPattern()
	if err != nil {
		return err
	}

	// A directory sink (or templated path) keeps one output per input;
	// a plain path folds the batch into a single artefact.
	want := planner.One
	if w.Sink.Directory != "" || strings.Contains(w.Sink.Path, "{name}") {
		want = planner.Many
	}
	if len(items) == 1 {
		want = planner.One
	}

	var plan *planner.Plan
	if w.NeedsPlanning() {
		from := planner.One
		if len(items) > 1 {
			from = planner.Many
		}
		plan, err = eng.Plan(ctx, items[0].Props, target, from, want)
		if err != nil {
			return err
		}
		logger.Info("planned route", "steps", plan.ConverterIDs())
	} else {
		plan, err = explicitPlan(eng, w, items[0].Props)
		if err != nil {
			return err
		}
	}

	results, err := eng.RunPlan(ctx, plan, items, want)
	if err != nil {
		return err
	}
	for i, res := range results {
		if res.Err != nil {
			logger.Warn("item failed", "index", i, "err", res.Err)
		}
	}

	return writeOutputs(w.Sink, items, results)
}

// ValidateWorkflow parses and structurally checks a workflow file.
func ValidateWorkflow(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read workflow: %w", err)
	}
	w, err := workflow.Parse(data, path)
	if err != nil {
		return err
	}
	return w.Validate()
}

// explicitPlan turns a workflow's declared steps into a plan without
// searching: the user has already chosen the route.
func explicitPlan(eng *transmute.Engine, w *workflow.Workflow, source property.Properties) (*planner.Plan, error) {
	plan := &planner.Plan{}
	state := source.Clone()
	stepIndexByID := map[string]int{}

	for i, ws := range w.Steps {
		decl, ok := eng.Registry().Decl(ws.Converter)
		if !ok {
			return nil, fmt.Errorf("step %d: unknown converter %q", i, ws.Converter)
		}

		binding := planner.Binding{Step: planner.SourceStep}
		if i > 0 {
			binding = planner.Binding{Step: i - 1, Port: plan.Steps[i-1].PrimaryOutput()}
		}
		if ref := workflow.ParsePortRef(ws.Input); ref.StepID != "" {
			idx, ok := stepIndexByID[ref.StepID]
			if !ok {
				return nil, fmt.Errorf("step %d references unknown step %q", i, ref.StepID)
			}
			binding = planner.Binding{Step: idx, Port: ref.Port}
		}

		inputs := map[string]planner.Binding{}
		for _, name := range decl.InputNames() {
			inputs[name] = binding
		}
		outputs := map[string]property.Properties{}
		for _, name := range decl.OutputNames() {
			outputs[name] = decl.Apply(state, name)
		}

		var options property.Properties
		if len(ws.Options) > 0 {
			var err error
			options, err = property.FromMap(ws.Options)
			if err != nil {
				return nil, fmt.Errorf("step %d options: %w", i, err)
			}
			if err := opts.ValidateNormalized(options); err != nil {
				var aggr *opts.AggregateError
				if errors.As(err, &aggr) {
					return nil, aggr.For(ws.Converter)
				}
				return nil, err
			}
		}

		step := planner.Step{
			ConverterID: ws.Converter,
			Inputs:      inputs,
			Outputs:     outputs,
			Options:     options,
		}
		plan.Steps = append(plan.Steps, step)
		if ws.ID != "" {
			stepIndexByID[ws.ID] = i
		}
		state = outputs[step.PrimaryOutput()]
		plan.Cost++
	}

	plan.Final = state
	return plan, nil
}

func collectInputs(src *workflow.Source) ([]converter.Item, error) {
	if src == nil {
		return nil, fmt.Errorf("workflow has no source")
	}

	var paths []string
	switch {
	case src.Glob != "":
		matches, err := filepath.Glob(src.Glob)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", src.Glob, err)
		}
		paths = matches
	case src.Path != "":
		paths = []string{src.Path}
	default:
		// Inline properties: nothing to read from disk.
		props, err := src.ToProperties()
		if err != nil {
			return nil, err
		}
		return []converter.Item{{Props: props}}, nil
	}

	items := make([]converter.Item, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		props := property.New()
		props["path"] = property.String(p)
		if format := workflow.DetectFormat(p); format != "" {
			props["format"] = property.String(format)
		}
		items = append(items, converter.Item{Data: data, Props: props})
	}
	return items, nil
}

// writeOutputs lands results at the sink. A sink path may contain a
// "{name}" placeholder, filled with the source file's base name.
func writeOutputs(sink *workflow.Sink, inputs []converter.Item, results []orchestrator.ItemResult) error {
	for i, res := range results {
		if res.Err != nil {
			continue
		}

		var outPath string
		switch {
		case sink.Path != "":
			outPath = sink.Path
			if strings.Contains(outPath, "{name}") && i < len(inputs) {
				base := filepath.Base(inputs[i].Props.GetString("path"))
				name := strings.TrimSuffix(base, filepath.Ext(base))
				outPath = strings.ReplaceAll(outPath, "{name}", name)
			}
		case sink.Directory != "":
			base := fmt.Sprintf("output-%d", i)
			if i < len(inputs) {
				if p := inputs[i].Props.GetString("path"); p != "" {
					base = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
				}
			}
			ext := res.Item.Props.GetString("format")
			outPath = filepath.Join(sink.Directory, base+"."+ext)
		default:
			// Properties-only sink: nothing lands on disk.
			continue
		}

		if dir := filepath.Dir(outPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
		}
		if err := os.WriteFile(outPath, res.Item.Data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", outPath, err)
		}
	}
	return nil
}
