//go:build !linux && !darwin

package plugin

import (
	"fmt"

	"github.com/aretw0/transmute/pkg/registry"
)

func (l *Loader) loadNative(reg *registry.Registry, path string) error {
	return &ABIError{Path: path, Err: fmt.Errorf("native plugins are not supported on this platform")}
}
