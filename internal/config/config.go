// Package config loads the CLI configuration file: defaults and named
// presets (option bundles merged into conversions by name).
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk CLI configuration.
type Config struct {
	// DefaultOptimize is the cost selector used when --optimize is not
	// given: quality, speed or size.
	DefaultOptimize string `yaml:"default_optimize"`

	// MemoryLimit caps execution memory, e.g. "512MB". Empty means
	// unbounded.
	MemoryLimit string `yaml:"memory_limit"`

	// PlanCache is a redis address ("host:port") enabling the plan
	// cache. Empty disables caching.
	PlanCache string `yaml:"plan_cache"`

	// PlanCacheTTL bounds cached plan lifetime, e.g. "1h". Empty means
	// no expiration.
	PlanCacheTTL string `yaml:"plan_cache_ttl"`

	// Presets are named option bundles.
	Presets map[string]Preset `yaml:"presets"`
}

// Preset is a reusable bundle of converter options.
type Preset struct {
	Description string         `yaml:"description"`
	Options     map[string]any `yaml:"options"`
}

// Default returns an empty configuration with the built-in presets.
func Default() *Config {
	return &Config{
		Presets: map[string]Preset{
			"web": {
				Description: "Optimised for web delivery",
				Options:     map[string]any{"quality": 85, "max_width": 1920},
			},
			"thumbnail": {
				Description: "Small preview images",
				Options:     map[string]any{"quality": 70, "max_width": 256, "max_height": 256},
			},
		},
	}
}

// Path returns the default config file location.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "transmute", "config.yaml"), nil
}

// Load reads a config file, merging it over the defaults. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if loaded.DefaultOptimize != "" {
		cfg.DefaultOptimize = loaded.DefaultOptimize
	}
	if loaded.MemoryLimit != "" {
		cfg.MemoryLimit = loaded.MemoryLimit
	}
	if loaded.PlanCache != "" {
		cfg.PlanCache = loaded.PlanCache
	}
	if loaded.PlanCacheTTL != "" {
		cfg.PlanCacheTTL = loaded.PlanCacheTTL
	}
	for name, preset := range loaded.Presets {
		cfg.Presets[name] = preset
	}
	return cfg, nil
}

// Preset resolves a preset by name.
func (c *Config) Preset(name string) (Preset, error) {
	p, ok := c.Presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	return p, nil
}

// DecodeOptions decodes a preset's options into a typed struct using
// mapstructure tags. Unknown keys are left for the converter to judge.
func (p Preset) DecodeOptions(out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(p.Options)
}

// MergeOptions layers the preset's options under the given overrides.
func (p Preset) MergeOptions(overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(p.Options)+len(overrides))
	for k, v := range p.Options {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
