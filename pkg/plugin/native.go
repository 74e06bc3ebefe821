//go:build linux || darwin

package plugin

import (
	"fmt"
	goplugin "plugin"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/registry"
)

// Native plug-ins are shared objects exporting two symbols:
//
//	var ABIVersion int
//	func Converters() []converter.Converter
//
// Output buffers cross the boundary as owned []byte values, so the
// allocator that produced them releases them; no shared mutable state
// crosses over.
func (l *Loader) loadNative(reg *registry.Registry, path string) error {
	p, err := goplugin.Open(path)
	if err != nil {
		return &ABIError{Path: path, Err: err}
	}

	vSym, err := p.Lookup("ABIVersion")
	if err != nil {
		return &ABIError{Path: path, Err: fmt.Errorf("missing ABIVersion symbol: %w", err)}
	}
	version, ok := vSym.(*int)
	if !ok {
		return &ABIError{Path: path, Err: fmt.Errorf("ABIVersion has type %T, want *int", vSym)}
	}
	if *version < ABIVersionMin || *version > ABIVersionMax {
		return &ABIError{Path: path, Version: *version}
	}

	cSym, err := p.Lookup("Converters")
	if err != nil {
		return &ABIError{Path: path, Err: fmt.Errorf("missing Converters symbol: %w", err)}
	}
	factory, ok := cSym.(func() []converter.Converter)
	if !ok {
		return &ABIError{Path: path, Err: fmt.Errorf("Converters has type %T", cSym)}
	}

	for _, c := range factory() {
		if err := reg.Replace(c); err != nil {
			return &ABIError{Path: path, Err: err}
		}
		l.logger.Debug("registered plugin converter", "id", c.Decl().ID, "plugin", path)
	}
	return nil
}
