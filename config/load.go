package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, normalizes, and validates the YAML configuration
// document at path, returning a ready-to-use Snapshot.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(path, raw)
}

// Parse decodes raw YAML bytes into a Snapshot. Split out from Load so the
// reload watcher and tests can feed in-memory bytes without touching disk.
func Parse(path string, raw []byte) (*Snapshot, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validate %s: %w", path, err)
	}
	return &Snapshot{Config: cfg, Path: path}, nil
}
