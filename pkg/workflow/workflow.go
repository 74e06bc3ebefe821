// Package workflow defines the serialised shape of a plan request: a
// source, optional explicit steps, a sink, presets and options. A
// workflow with no steps is a request for auto-planning.
package workflow

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/transmute/pkg/property"
)

// Workflow is a declarative conversion pipeline.
type Workflow struct {
	// Preset names an option bundle resolved by the CLI config.
	Preset string `json:"preset,omitempty" yaml:"preset,omitempty" toml:"preset,omitempty"`

	Source *Source `json:"source,omitempty" yaml:"source,omitempty" toml:"source,omitempty"`

	// Steps are explicit converter applications; empty steps trigger
	// auto-planning between source and sink.
	Steps []Step `json:"steps,omitempty" yaml:"steps,omitempty" toml:"steps,omitempty"`

	Sink *Sink `json:"sink,omitempty" yaml:"sink,omitempty" toml:"sink,omitempty"`

	// Options apply to every step, under per-step options.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`
}

// Source says where input comes from: a single path, a glob for
// batches, or inline properties for planning without files.
type Source struct {
	Path       string         `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	Glob       string         `json:"glob,omitempty" yaml:"glob,omitempty" toml:"glob,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty" toml:"properties,omitempty"`
}

// IsBatch reports whether the source names multiple files.
func (s *Source) IsBatch() bool { return s != nil && s.Glob != "" }

// ToProperties derives the planning-time property state of the source.
func (s *Source) ToProperties() (property.Properties, error) {
	if s == nil {
		return property.New(), nil
	}
	if s.Properties != nil {
		return property.FromMap(s.Properties)
	}
	props := property.New()
	ref := s.Path
	if ref == "" {
		ref = s.Glob
	}
	if ref != "" {
		props["path"] = property.String(ref)
		if format := DetectFormat(ref); format != "" {
			props["format"] = property.String(format)
		}
	}
	return props, nil
}

// Sink says where output goes: a path, a directory for batches, or
// target properties for planning.
type Sink struct {
	Path       string         `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
	Directory  string         `json:"directory,omitempty" yaml:"directory,omitempty" toml:"directory,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty" toml:"properties,omitempty"`
}

// ToPattern derives the target pattern the sink implies.
func (s *Sink) ToPattern() (property.Pattern, error) {
	pattern := property.NewPattern()
	if s == nil {
		return pattern, nil
	}
	if s.Properties != nil {
		for key, raw := range s.Properties {
			v, err := property.Of(raw)
			if err != nil {
				return nil, fmt.Errorf("sink property %q: %w", key, err)
			}
			pattern[key] = property.Eq(v)
		}
		return pattern, nil
	}
	if s.Path != "" {
		if format := DetectFormat(s.Path); format != "" {
			pattern = pattern.WithEq("format", format)
		}
	}
	return pattern, nil
}

// Step is one explicit converter application.
type Step struct {
	Converter string         `json:"converter" yaml:"converter" toml:"converter"`
	Options   map[string]any `json:"options,omitempty" yaml:"options,omitempty" toml:"options,omitempty"`

	// ID names the step so later steps can reference its outputs.
	ID string `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`

	// Input optionally disambiguates the input port, or references a
	// prior step's output as "<step-id>.<output-port>".
	Input string `json:"input,omitempty" yaml:"input,omitempty" toml:"input,omitempty"`

	// Output optionally selects the output port to carry forward.
	Output string `json:"output,omitempty" yaml:"output,omitempty" toml:"output,omitempty"`
}

// PortRef is a reference to a named step's output port.
type PortRef struct {
	StepID string
	Port   string
}

// ParsePortRef splits a "<step-id>.<output-port>" reference. A bare
// name with no dot is a plain port name on the implicit previous step.
func ParsePortRef(s string) PortRef {
	stepID, port, found := strings.Cut(s, ".")
	if !found {
		return PortRef{Port: s}
	}
	return PortRef{StepID: stepID, Port: port}
}

// IsComplete reports whether the workflow has a source, sink and steps.
func (w *Workflow) IsComplete() bool {
	return w.Source != nil && w.Sink != nil && len(w.Steps) > 0
}

// NeedsPlanning reports whether the workflow has endpoints but no steps.
func (w *Workflow) NeedsPlanning() bool {
	return w.Source != nil && w.Sink != nil && len(w.Steps) == 0
}

// Validate checks structural requirements before running.
func (w *Workflow) Validate() error {
	if w.Source == nil {
		return fmt.Errorf("workflow has no source")
	}
	if w.Sink == nil {
		return fmt.Errorf("workflow has no sink")
	}
	seen := map[string]bool{}
	for i, step := range w.Steps {
		if step.Converter == "" {
			return fmt.Errorf("step %d names no converter", i)
		}
		if step.ID != "" {
			if seen[step.ID] {
				return fmt.Errorf("duplicate step id %q", step.ID)
			}
			seen[step.ID] = true
		}
		if ref := ParsePortRef(step.Input); ref.StepID != "" && !seen[ref.StepID] {
			return fmt.Errorf("step %d references unknown step %q", i, ref.StepID)
		}
	}
	return nil
}

// Parse decodes a workflow, picking the format from the path extension
// and falling back to YAML. The file format itself is agnostic: any of
// the supported self-describing serialisations is accepted.
func Parse(data []byte, path string) (*Workflow, error) {
	format := DetectFormat(path)
	if format == "" {
		format = "yaml"
	}
	return ParseFormat(data, format)
}

// ParseFormat decodes a workflow in an explicit format.
func ParseFormat(data []byte, format string) (*Workflow, error) {
	var w Workflow
	switch format {
	case "json":
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("parse workflow: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("parse workflow: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("parse workflow: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported workflow format %q", format)
	}
	return &w, nil
}

// Encode serialises the workflow in the given format.
func (w *Workflow) Encode(format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(w, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(w)
	case "toml":
		return toml.Marshal(w)
	}
	return nil, fmt.Errorf("unsupported workflow format %q", format)
}

// formatsByExtension maps path extensions to format names. Shared by
// workflow endpoints and the CLI; magic-byte sniffing is out of scope.
var formatsByExtension = map[string]string{
	"json":    "json",
	"yaml":    "yaml",
	"yml":     "yaml",
	"toml":    "toml",
	"csv":     "csv",
	"msgpack": "msgpack",
	"mp":      "msgpack",
	"cbor":    "cbor",
	"png":     "png",
	"jpg":     "jpg",
	"jpeg":    "jpg",
	"webp":    "webp",
	"gif":     "gif",
	"bmp":     "bmp",
	"mp3":     "mp3",
	"wav":     "wav",
	"flac":    "flac",
	"ogg":     "ogg",
	"mp4":     "mp4",
	"webm":    "webm",
	"mkv":     "mkv",
	"tar":     "tar",
	"gz":      "gzip",
	"zip":     "zip",
}

// DetectFormat derives a format name from a path's extension. Returns
// "" when the extension is unknown.
func DetectFormat(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	return formatsByExtension[strings.ToLower(ext)]
}
