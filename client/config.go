package client

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config describes the WFS layer to query.
type Config struct {
	URL         string        `yaml:"url"`         // Service root, e.g. http://localhost:8080/geoserver
	Layers      string        `yaml:"layers"`      // Feature type as namespace:name
	Version     string        `yaml:"version"`     // WFS version
	MaxFeatures int           `yaml:"maxFeatures"` // Feature limit per GetFeature request
	BBOX        bool          `yaml:"bbox"`        // Restrict GetFeature to the current viewport
	Tiled       bool          `yaml:"tiled"`       // Rebuild every primitive on each refresh
	Timeout     time.Duration `yaml:"timeout"`     // Per request timeout

	// Registry bounds used when Tiled is false.
	RegistryMaxEntries int           `yaml:"registryMaxEntries"`
	RegistryTTL        time.Duration `yaml:"registryTTL"`
}

// DefaultConfig returns the defaults applied before a file or flags are read.
func DefaultConfig() Config {
	return Config{
		Version:            "1.0.0",
		MaxFeatures:        100,
		BBOX:               true,
		Tiled:              false,
		Timeout:            30 * time.Second,
		RegistryMaxEntries: 10000,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("client: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports missing required settings.
func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return ErrMissingURL
	}
	if strings.TrimSpace(c.Layers) == "" {
		return ErrMissingLayers
	}
	if c.MaxFeatures < 0 {
		return fmt.Errorf("%w: maxFeatures %d", ErrInvalidConfig, c.MaxFeatures)
	}
	return nil
}
