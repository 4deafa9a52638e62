package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level recmerge configuration.
type Config struct {
	// KeyField is the identifier field name used to match updates to
	// records. Default "id".
	KeyField string `yaml:"key_field,omitempty"`

	Expiry  *ExpiryConfig  `yaml:"expiry,omitempty"`
	History *HistoryConfig `yaml:"history,omitempty"`
	Server  *ServerConfig  `yaml:"server,omitempty"`
}

// ExpiryConfig controls the contract expiry pass.
type ExpiryConfig struct {
	ThresholdDays int `yaml:"threshold_days,omitempty"` // default 30
}

// HistoryConfig controls the run-history subsystem.
type HistoryConfig struct {
	Disabled  bool   `yaml:"disabled"` // default: false (history enabled)
	DBPath    string `yaml:"db_path,omitempty"`
	Retention string `yaml:"retention,omitempty"` // e.g. "7d", "30d"
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"` // default ":8080"
}

// DefaultKeyField is used when no key field is configured or passed.
const DefaultKeyField = "id"

// DefaultServerAddr is the listen address when none is configured.
const DefaultServerAddr = ":8080"

// EffectiveKeyField returns the configured key field, defaulting to "id".
func (c Config) EffectiveKeyField() string {
	if c.KeyField == "" {
		return DefaultKeyField
	}
	return c.KeyField
}

// EffectiveThresholdDays returns the expiry lookahead window, defaulting
// to 30 days.
func (c Config) EffectiveThresholdDays() int {
	if c.Expiry == nil || c.Expiry.ThresholdDays == 0 {
		return 30
	}
	return c.Expiry.ThresholdDays
}

// EffectiveServerAddr returns the HTTP listen address.
func (c Config) EffectiveServerAddr() string {
	if c.Server == nil || c.Server.Addr == "" {
		return DefaultServerAddr
	}
	return c.Server.Addr
}

// HistoryEnabled reports whether run history should be recorded.
func (c Config) HistoryEnabled() bool {
	return c.History == nil || !c.History.Disabled
}

// Load searches for the config file in standard locations and parses it.
// Search order: $RECMERGE_CONFIG → $XDG_CONFIG_HOME/recmerge/config.yaml
// → ~/.config/recmerge/config.yaml.
// Returns zero-value Config if no file is found. Returns error if file exists
// but contains invalid YAML.
func Load() (Config, error) {
	path, err := findConfigPath()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return Config{}, nil
	}
	return LoadFrom(path)
}

// LoadFrom parses a config from the given file path.
// Returns error if the file cannot be read or contains invalid YAML.
func LoadFrom(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// findConfigPath returns the path to the first config file found,
// or empty string if none exists.
func findConfigPath() (string, error) {
	// 1. Explicit env var.
	if p := os.Getenv("RECMERGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("config: $RECMERGE_CONFIG points to %s which does not exist", p)
			}
			return "", fmt.Errorf("config: stat %s: %w", p, err)
		}
		return p, nil
	}

	// 2. XDG_CONFIG_HOME.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		p := filepath.Join(xdg, "recmerge", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// 3. Default ~/.config.
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil // Can't determine home, treat as no config.
	}
	p := filepath.Join(home, ".config", "recmerge", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	return "", nil
}
