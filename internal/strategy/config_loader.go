package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the strategy section of the YAML file.
type Config struct {
	Thresholds       Thresholds `yaml:"thresholds"`
	PrescreenPercent float64    `yaml:"prescreen_percent"`
	Metrics          []string   `yaml:"metrics"`
	ScanLimit        int        `yaml:"scan_limit"`
	Blocklist        []string   `yaml:"blocklist"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Momentum Config `yaml:"momentum"`
}

// DefaultConfig is the momentum section used when no file is given.
func DefaultConfig() Config {
	return Config{Thresholds: DefaultThresholds(), PrescreenPercent: 4.0, ScanLimit: 100}
}

// LoadConfig reads the momentum section from a YAML file on top of base.
// Fields left out of the file keep the values from base; on error base is
// returned unchanged.
func LoadConfig(path string, base Config) (Config, error) {
	cfg := base

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	file := ConfigFile{Momentum: cfg}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := file.Momentum.Thresholds.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return file.Momentum, nil
}
