// Package config loads the mkrk user configuration.
//
// Configuration is ambient only: logging verbosity, fallback viewers, and
// the proxy applied to spawned tools. All domain state (files, categories,
// pipelines, rules) lives in the project and workspace stores, never here.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all mkrk configuration.
type Config struct {
	// Logging verbosity: debug, info, warn, error.
	Logging LoggingConfig `yaml:"logging"`

	// Tools configures spawned-tool defaults.
	Tools ToolsConfig `yaml:"tools"`
}

// LoggingConfig controls the categorized stderr logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// ToolsConfig configures external tool execution.
type ToolsConfig struct {
	// Proxy is exported as ALL_PROXY/HTTPS_PROXY/HTTP_PROXY for every
	// spawned tool unless a tool config explicitly overrides it.
	Proxy string `yaml:"proxy"`

	// Pager and Editor are used when no tool config matches a view or
	// edit action. Empty means fall back to $PAGER / $EDITOR.
	Pager  string `yaml:"pager"`
	Editor string `yaml:"editor"`
}

// DefaultProxy routes tool traffic through a local Tor SOCKS port.
const DefaultProxy = "socks5h://127.0.0.1:9050"

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "warn"},
		Tools:   ToolsConfig{Proxy: DefaultProxy},
	}
}

// Path returns the config file location: $MKRK_CONFIG if set, otherwise
// <user config dir>/mkrk/config.yaml.
func Path() (string, error) {
	if p := os.Getenv("MKRK_CONFIG"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config dir: %w", err)
	}
	return filepath.Join(dir, "mkrk", "config.yaml"), nil
}

// Load reads the config file, layering it over the defaults. A missing
// file is not an error; the defaults are returned.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads a specific config file over the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Tools.Proxy == "" {
		cfg.Tools.Proxy = DefaultProxy
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "warn"
	}
	return cfg, nil
}

// Save writes the config file, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
