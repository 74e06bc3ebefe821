package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Contains(t, cfg.Presets, "web")
	assert.Contains(t, cfg.Presets, "thumbnail")
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default_optimize: quality
plan_cache: localhost:6379
plan_cache_ttl: 30m
presets:
  archive:
    description: Long-term storage
    options:
      quality: 100
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "quality", cfg.DefaultOptimize)
	assert.Equal(t, "localhost:6379", cfg.PlanCache)
	assert.Equal(t, "30m", cfg.PlanCacheTTL)
	assert.Contains(t, cfg.Presets, "web")
	assert.Contains(t, cfg.Presets, "archive")
}

func TestPresetLookup(t *testing.T) {
	cfg := Default()

	p, err := cfg.Preset("web")
	require.NoError(t, err)
	assert.EqualValues(t, 85, p.Options["quality"])

	_, err = cfg.Preset("nope")
	assert.Error(t, err)
}

func TestPresetDecodeOptions(t *testing.T) {
	p := Preset{Options: map[string]any{"quality": "85", "max_width": 1920}}

	var opts struct {
		Quality  int `mapstructure:"quality"`
		MaxWidth int `mapstructure:"max_width"`
	}
	require.NoError(t, p.DecodeOptions(&opts))
	assert.Equal(t, 85, opts.Quality)
	assert.Equal(t, 1920, opts.MaxWidth)
}

func TestPresetMergeOptions(t *testing.T) {
	p := Preset{Options: map[string]any{"quality": 85, "max_width": 1920}}

	merged := p.MergeOptions(map[string]any{"quality": 60})
	assert.Equal(t, 60, merged["quality"])
	assert.Equal(t, 1920, merged["max_width"])
}
