// Package plugin discovers and loads converter plug-ins.
//
// Two plug-in forms exist. YAML manifests declare converters (ports,
// costs, effects) so the planner can route through them before the
// implementation is wired; native plug-ins (.so) carry implementations
// and load through the runtime's plugin loader. Both carry an ABI
// version that is checked against the supported range at load time.
package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/transmute/pkg/converter"
	"github.com/aretw0/transmute/pkg/registry"
)

// Supported ABI version range. A plug-in outside the range is rejected
// at load and registry construction fails.
const (
	ABIVersionMin = 1
	ABIVersionMax = 1
)

// EnvPath is the environment variable naming extra plug-in directories,
// delimited by the platform path-list separator.
const EnvPath = "TRANSMUTE_PLUGIN_PATH"

// ABIError is a plug-in load failure or version mismatch. It is fatal
// to registry construction.
type ABIError struct {
	Path    string
	Version int
	Err     error
}

func (e *ABIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("plugin %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("plugin %s: abi version %d outside supported range [%d, %d]",
		e.Path, e.Version, ABIVersionMin, ABIVersionMax)
}

func (e *ABIError) Unwrap() error { return e.Err }

// Manifest is the YAML declaration file a plug-in ships.
type Manifest struct {
	ABIVersion int               `yaml:"abi_version"`
	Converters []*converter.Decl `yaml:"converters"`
}

// ParseManifest decodes and version-checks a manifest.
func ParseManifest(data []byte, path string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &ABIError{Path: path, Err: fmt.Errorf("invalid manifest: %w", err)}
	}
	if m.ABIVersion < ABIVersionMin || m.ABIVersion > ABIVersionMax {
		return nil, &ABIError{Path: path, Version: m.ABIVersion}
	}
	for _, decl := range m.Converters {
		if err := decl.Validate(); err != nil {
			return nil, &ABIError{Path: path, Err: err}
		}
	}
	return &m, nil
}

// SearchDirs returns the plug-in directories in load order. Later
// directories override earlier ones on id collision; built-ins load
// before any of them.
func SearchDirs(projectDir string) []string {
	var dirs []string

	if env := os.Getenv(EnvPath); env != "" {
		for _, entry := range filepath.SplitList(env) {
			if entry != "" {
				dirs = append(dirs, entry)
			}
		}
	}

	if cfg, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(cfg, "transmute", "plugins"))
	}

	if projectDir != "" {
		dirs = append(dirs, filepath.Join(projectDir, ".transmute", "plugins"))
	}

	return dirs
}

// Loader wires discovered plug-ins into a registry.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// LoadAll loads every plug-in found under the search directories, in
// order. Missing directories are skipped silently; a broken plug-in
// aborts loading.
func (l *Loader) LoadAll(reg *registry.Registry, projectDir string) error {
	for _, dir := range SearchDirs(projectDir) {
		if err := l.LoadDir(reg, dir); err != nil {
			return err
		}
	}
	return nil
}

// LoadDir loads the manifests and native plug-ins in one directory.
func (l *Loader) LoadDir(reg *registry.Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &ABIError{Path: dir, Err: err}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, ".yaml"), strings.HasSuffix(name, ".yml"):
			if err := l.loadManifest(reg, path); err != nil {
				return err
			}
		case strings.HasSuffix(name, ".so"):
			if err := l.loadNative(reg, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func (l *Loader) loadManifest(reg *registry.Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &ABIError{Path: path, Err: err}
	}
	manifest, err := ParseManifest(data, path)
	if err != nil {
		return err
	}
	for _, decl := range manifest.Converters {
		if err := reg.ReplaceDecl(decl); err != nil {
			return &ABIError{Path: path, Err: err}
		}
		l.logger.Debug("registered plugin converter", "id", decl.ID, "manifest", path)
	}
	return nil
}
