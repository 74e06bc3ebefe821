// Package serde provides the built-in structured-data converters
// (JSON, YAML, TOML). They are lossless for data the three formats can
// all represent and serve as the default registry's baseline.
package serde

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/property"
	"github.com/aretw0/transmute/pkg/registry"
)

type codec struct {
	decode func([]byte) (any, error)
	encode func(any) ([]byte, error)
}

var codecs = map[string]codec{
	"json": {
		decode: func(data []byte) (any, error) {
			dec := json.NewDecoder(bytes.NewReader(data))
			dec.UseNumber()
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, err
			}
			return widenNumbers(v), nil
		},
		encode: func(v any) ([]byte, error) {
			return json.MarshalIndent(v, "", "  ")
		},
	},
	"yaml": {
		decode: func(data []byte) (any, error) {
			var v any
			if err := yaml.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		encode: yaml.Marshal,
	},
	"toml": {
		decode: func(data []byte) (any, error) {
			var v map[string]any
			if err := toml.Unmarshal(data, &v); err != nil {
				return nil, err
			}
			return v, nil
		},
		encode: func(v any) ([]byte, error) {
			if _, ok := v.(map[string]any); !ok {
				return nil, fmt.Errorf("toml documents must be tables, got %T", v)
			}
			return toml.Marshal(v)
		},
	},
}

// widenNumbers rewrites json.Number nodes into int64 or float64 so the
// YAML and TOML encoders emit them as numbers, not strings. Integers
// stay integers: decoding with UseNumber avoids the float64 round-trip
// that would corrupt large int64 values.
func widenNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		for i, e := range x {
			x[i] = widenNumbers(e)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = widenNumbers(e)
		}
		return x
	default:
		return v
	}
}

// Transcoder converts one structured-data format to another by
// decoding to a neutral tree and re-encoding.
type Transcoder struct {
	decl *Decl
	from string
	to   string
}

// Decl aliases converter.Decl so callers don't need both imports.
type Decl = converter.Decl

// New creates a transcoder between two of json, yaml and toml.
func New(from, to string) *Transcoder {
	decl := converter.Simple(fmt.Sprintf("serde.%s-to-%s", from, to),
		property.NewPattern().WithEq("format", from),
		property.NewPattern().WithEq("format", to)).
		WithDescription(fmt.Sprintf("Re-encode %s documents as %s", from, to)).
		WithCost("quality_loss", 0.0).
		WithCost("speed", 0.1).
		WithCost("size_ratio", 1.0)
	return &Transcoder{decl: decl, from: from, to: to}
}

// Decl implements converter.Converter.
func (t *Transcoder) Decl() *converter.Decl { return t.decl }

// Convert implements converter.Converter.
func (t *Transcoder) Convert(ctx context.Context, inputs converter.Payload, options property.Properties) (converter.Payload, error) {
	items, ok := inputs["in"]
	if !ok || len(items) == 0 {
		return nil, converter.Internal(t.decl.ID, "no input bound to port \"in\"")
	}
	in := items[0]

	tree, err := codecs[t.from].decode(in.Data)
	if err != nil {
		return nil, converter.InvalidInput(t.decl.ID, fmt.Sprintf("not valid %s", t.from), err)
	}

	out, err := codecs[t.to].encode(tree)
	if err != nil {
		return nil, converter.InvalidInput(t.decl.ID, fmt.Sprintf("document not representable as %s", t.to), err)
	}

	props := in.Props.Clone()
	props["format"] = property.String(t.to)
	return converter.Single("out", out, props), nil
}

// RegisterAll registers every pairwise transcoder into the registry.
func RegisterAll(reg *registry.Registry) error {
	formats := []string{"json", "yaml", "toml"}
	for _, from := range formats {
		for _, to := range formats {
			if from == to {
				continue
			}
			if err := reg.Register(New(from, to)); err != nil {
				return err
			}
		}
	}
	return nil
}
