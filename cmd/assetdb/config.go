package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Config holds settings that can be supplied via an optional YAML config
// file (--config), layered under the CLI flags: flags always win over the
// config file, and the config file wins over the built-in defaults.
type Config struct {
	DataDir    string `yaml:"datadir"`
	DeviceID   string `yaml:"deviceID"`
	MaxWorkers int    `yaml:"maxWorkers"`
	Verbosity  int    `yaml:"verbosity"`
}

// DefaultConfig returns the built-in defaults used when no config file and
// no flags override them.
func DefaultConfig() Config {
	return Config{
		DataDir:    defaultDataDir(),
		DeviceID:   "default",
		MaxWorkers: 4,
		Verbosity:  3,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".assetdb"
	}
	return home + "/.assetdb"
}

// LoadConfigFile reads and parses a YAML config file. A missing path is not
// an error: the caller gets the zero Config back and proceeds with defaults
// and flags only.
func LoadConfigFile(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// MergeConfig layers override onto base: non-zero fields in override win.
func MergeConfig(base, override Config) Config {
	result := base
	if override.DataDir != "" {
		result.DataDir = override.DataDir
	}
	if override.DeviceID != "" {
		result.DeviceID = override.DeviceID
	}
	if override.MaxWorkers != 0 {
		result.MaxWorkers = override.MaxWorkers
	}
	if override.Verbosity != 0 {
		result.Verbosity = override.Verbosity
	}
	return result
}
