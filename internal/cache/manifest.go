package cache

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Manifest is the build-time list of application shell assets to cache on
// install.
type Manifest struct {
	Assets []string `yaml:"assets"`
}

// LoadManifest reads the warm manifest from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if len(m.Assets) == 0 {
		return nil, fmt.Errorf("manifest %s lists no assets", path)
	}
	return &m, nil
}
