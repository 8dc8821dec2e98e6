package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Duskaraa/Plots-Manager/internal/loader"
)

// ManifestModule is one module entry in the manifest file.
type ManifestModule struct {
	Specifier string `yaml:"specifier"`
	Phase     string `yaml:"phase"`
}

// Manifest lists the modules the host registers before initialization.
type Manifest struct {
	// Base anchors relative specifiers. Defaults to the manifest's own path.
	Base    string           `yaml:"base"`
	Modules []ManifestModule `yaml:"modules"`
}

// ManifestEntry is a validated manifest module.
type ManifestEntry struct {
	Specifier string
	Phase     loader.Phase
}

// LoadManifest reads the manifest YAML at filePath. If the file does not
// exist, an empty manifest is returned (not an error).
func LoadManifest(filePath string) (*Manifest, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // path is operator-configured
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("reading manifest %q: %w", filePath, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %q: %w", filePath, err)
	}
	if m.Base == "" {
		if abs, err := filepath.Abs(filePath); err == nil {
			m.Base = abs
		}
	}
	if _, err := m.Entries(); err != nil {
		return nil, fmt.Errorf("validating manifest %q: %w", filePath, err)
	}
	return &m, nil
}

// Entries returns the modules with their phases parsed.
func (m *Manifest) Entries() ([]ManifestEntry, error) {
	out := make([]ManifestEntry, 0, len(m.Modules))
	for i, mod := range m.Modules {
		if mod.Specifier == "" {
			return nil, fmt.Errorf("module %d: specifier is required", i)
		}
		phase, err := loader.ParsePhase(mod.Phase)
		if err != nil {
			return nil, fmt.Errorf("module %d (%s): %w", i, mod.Specifier, err)
		}
		out = append(out, ManifestEntry{Specifier: mod.Specifier, Phase: phase})
	}
	return out, nil
}
