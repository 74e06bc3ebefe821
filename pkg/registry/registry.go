// Package registry holds the indexed collection of converters the
// planner and executors consult.
package registry

import (
	"fmt"
	"sort"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/property"
)

// Registry stores converter declarations and implementations indexed by
// id. It is append-only: build it once at startup (or per scope), then
// share it by reference; after construction it is an immutable view and
// safe for concurrent readers.
type Registry struct {
	decls map[string]*converter.Decl
	impls map[string]converter.Converter
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		decls: make(map[string]*converter.Decl),
		impls: make(map[string]converter.Converter),
	}
}

// Register inserts a converter with its implementation. Registering a
// duplicate id fails.
func (r *Registry) Register(c converter.Converter) error {
	decl := c.Decl()
	if err := r.RegisterDecl(decl); err != nil {
		return err
	}
	r.impls[decl.ID] = c
	return nil
}

// RegisterDecl inserts a declaration without an implementation; the
// planner can route through it, but execution will fail at lookup.
func (r *Registry) RegisterDecl(decl *converter.Decl) error {
	if err := decl.Validate(); err != nil {
		return err
	}
	if _, exists := r.decls[decl.ID]; exists {
		return fmt.Errorf("converter %q is already registered", decl.ID)
	}
	r.decls[decl.ID] = decl
	return nil
}

// Replace inserts a converter, overwriting any existing registration
// with the same id. Plug-in discovery uses it so later sources override
// earlier ones.
func (r *Registry) Replace(c converter.Converter) error {
	decl := c.Decl()
	if err := decl.Validate(); err != nil {
		return err
	}
	r.decls[decl.ID] = decl
	r.impls[decl.ID] = c
	return nil
}

// ReplaceDecl inserts a declaration, overwriting any existing one with
// the same id. Any previous implementation for the id is dropped.
func (r *Registry) ReplaceDecl(decl *converter.Decl) error {
	if err := decl.Validate(); err != nil {
		return err
	}
	r.decls[decl.ID] = decl
	delete(r.impls, decl.ID)
	return nil
}

// Lookup fetches an implementation by id.
func (r *Registry) Lookup(id string) (converter.Converter, bool) {
	c, ok := r.impls[id]
	return c, ok
}

// Decl fetches a declaration by id.
func (r *Registry) Decl(id string) (*converter.Decl, bool) {
	d, ok := r.decls[id]
	return d, ok
}

// Decls enumerates every declaration, sorted by id so iteration order is
// deterministic.
func (r *Registry) Decls() []*converter.Decl {
	ids := make([]string, 0, len(r.decls))
	for id := range r.decls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*converter.Decl, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.decls[id])
	}
	return out
}

// Applicable yields every declaration whose input ports are all
// satisfied by the given state, in id order.
func (r *Registry) Applicable(props property.Properties) []*converter.Decl {
	var out []*converter.Decl
	for _, decl := range r.Decls() {
		if decl.MatchesInputs(props) {
			out = append(out, decl)
		}
	}
	return out
}

// Len reports the number of registered declarations.
func (r *Registry) Len() int { return len(r.decls) }

// RelevantKeys returns the sorted union of property keys any registered
// pattern, produces bag, or removes list mentions. Planners project
// states onto this set when deduplicating search states.
func (r *Registry) RelevantKeys(extra ...string) []string {
	seen := map[string]struct{}{}
	add := func(k string) { seen[k] = struct{}{} }
	for _, decl := range r.decls {
		for _, port := range decl.Inputs {
			for k := range port.Pattern {
				add(k)
			}
		}
		for _, port := range decl.Outputs {
			for k := range port.Pattern {
				add(k)
			}
		}
		for k := range decl.Produces {
			add(k)
		}
		for _, k := range decl.ProducesFromOptions {
			add(k)
		}
		for _, k := range decl.Removes {
			add(k)
		}
	}
	for _, k := range extra {
		add(k)
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
