package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/transmute"
	"github.com/aretw0/transmute/internal/config"
	"github.com/aretw0/transmute/internal/logging"
	"github.com/aretw0/transmute/pkg/planner"
	"github.com/aretw0/transmute/pkg/property"
)

func TestParseSize(t *testing.T) {
	cases := map[string]int{
		"1024":   1024,
		"1KB":    1000,
		"1KiB":   1024,
		"512MB":  512_000_000,
		"512MiB": 512 << 20,
		"2GiB":   2 << 30,
		"1.5MB":  1_500_000,
	}
	for input, want := range cases {
		got, err := ParseSize(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseSize("lots")
	assert.Error(t, err)
}

func TestNewEngineFromParams(t *testing.T) {
	eng, logger, err := NewEngine(EngineParams{
		Optimize:    "quality",
		MemoryLimit: "1MiB",
		ProjectDir:  t.TempDir(),
	}, config.Default())
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.NotEmpty(t, eng.Converters())
}

func TestNewEngineRejectsBadOptimize(t *testing.T) {
	_, _, err := NewEngine(EngineParams{Optimize: "warp"}, config.Default())
	assert.Error(t, err)
}

func TestNewEngineWiresPlanCache(t *testing.T) {
	mr := miniredis.RunT(t)

	eng, _, err := NewEngine(EngineParams{
		CacheAddr:  mr.Addr(),
		ProjectDir: t.TempDir(),
	}, config.Default())
	require.NoError(t, err)

	// Planning twice: the first search populates redis, the second is
	// served from it.
	source := property.New().With("format", "json")
	target := property.NewPattern().WithEq("format", "yaml")

	first, err := eng.Plan(context.Background(), source, target, planner.One, planner.One)
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys(), "plan cache should hold the computed plan")

	second, err := eng.Plan(context.Background(), source, target, planner.One, planner.One)
	require.NoError(t, err)
	assert.Equal(t, first.ConverterIDs(), second.ConverterIDs())
}

func TestNewEngineCacheAddrFromConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.PlanCache = mr.Addr()
	cfg.PlanCacheTTL = "1h"

	eng, _, err := NewEngine(EngineParams{ProjectDir: t.TempDir()}, cfg)
	require.NoError(t, err)

	_, err = eng.Plan(context.Background(),
		property.New().With("format", "json"),
		property.NewPattern().WithEq("format", "yaml"),
		planner.One, planner.One)
	require.NoError(t, err)
	assert.NotEmpty(t, mr.Keys())
}

func TestNewEngineRejectsBadCacheTTL(t *testing.T) {
	cfg := config.Default()
	cfg.PlanCache = "localhost:6379"
	cfg.PlanCacheTTL = "soon"

	_, _, err := NewEngine(EngineParams{ProjectDir: t.TempDir()}, cfg)
	assert.Error(t, err)
}

func TestRunWorkflowAutoPlanned(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "data.json")
	outPath := filepath.Join(dir, "data.yaml")
	require.NoError(t, os.WriteFile(inPath, []byte(`{"a": 1}`), 0o644))

	wfPath := filepath.Join(dir, "pipeline.yaml")
	wf := `
source:
  path: ` + inPath + `
sink:
  path: ` + outPath + `
`
	require.NoError(t, os.WriteFile(wfPath, []byte(wf), 0o644))

	eng, err := transmute.New(transmute.WithoutPlugins())
	require.NoError(t, err)

	err = RunWorkflow(context.Background(), eng, config.Default(), wfPath, logging.NewNop())
	require.NoError(t, err)

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "a: 1")
}

func TestRunWorkflowExplicitSteps(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "data.json")
	outPath := filepath.Join(dir, "data.toml")
	require.NoError(t, os.WriteFile(inPath, []byte(`{"title": "x"}`), 0o644))

	wfPath := filepath.Join(dir, "pipeline.yaml")
	wf := `
source:
  path: ` + inPath + `
steps:
  - converter: serde.json-to-toml
sink:
  path: ` + outPath + `
`
	require.NoError(t, os.WriteFile(wfPath, []byte(wf), 0o644))

	eng, err := transmute.New(transmute.WithoutPlugins())
	require.NoError(t, err)

	require.NoError(t, RunWorkflow(context.Background(), eng, config.Default(), wfPath, logging.NewNop()))

	out, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(out), "title")
}

func TestRunWorkflowRejectsBadStepOptions(t *testing.T) {
	dir := t.TempDir()
	inPath := filepath.Join(dir, "data.json")
	require.NoError(t, os.WriteFile(inPath, []byte(`{}`), 0o644))

	wfPath := filepath.Join(dir, "pipeline.yaml")
	wf := `
source:
  path: ` + inPath + `
steps:
  - converter: serde.json-to-yaml
    options:
      quality: 500
sink:
  path: ` + filepath.Join(dir, "data.yaml") + `
`
	require.NoError(t, os.WriteFile(wfPath, []byte(wf), 0o644))

	eng, err := transmute.New(transmute.WithoutPlugins())
	require.NoError(t, err)

	err = RunWorkflow(context.Background(), eng, config.Default(), wfPath, logging.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `converter "serde.json-to-yaml"`)
	assert.Contains(t, err.Error(), "quality")
}

func TestRunWorkflowGlobDirectorySink(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"one.json", "two.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(`{"n": 1}`), 0o644))
	}
	outDir := filepath.Join(dir, "out")

	wfPath := filepath.Join(dir, "batch.yaml")
	wf := `
source:
  glob: "` + filepath.Join(dir, "*.json") + `"
sink:
  directory: ` + outDir + `
`
	require.NoError(t, os.WriteFile(wfPath, []byte(wf), 0o644))

	// Batch of JSON files to YAML: auto-mapped one plan over each file.
	eng, err := transmute.New(transmute.WithoutPlugins())
	require.NoError(t, err)

	// A directory sink has no format hint, so give the workflow explicit
	// steps.
	wf = `
source:
  glob: "` + filepath.Join(dir, "*.json") + `"
steps:
  - converter: serde.json-to-yaml
sink:
  directory: ` + outDir + `
`
	require.NoError(t, os.WriteFile(wfPath, []byte(wf), 0o644))

	require.NoError(t, RunWorkflow(context.Background(), eng, config.Default(), wfPath, logging.NewNop()))

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
