package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	cfg := Default()

	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	applyFlags(cfg, explicitFlags(flag.CommandLine))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail deep inside a sync.
func (c *Config) Validate() error {
	if len(c.Loader.Extensions) == 0 {
		return fmt.Errorf("loader.extensions: at least one extension is required")
	}
	if c.Loader.PollInterval < 0 {
		return fmt.Errorf("loader.poll_interval: must not be negative")
	}
	if c.Output.AssetDir == "" {
		return fmt.Errorf("output.asset_dir: must be set")
	}
	if c.History.Enabled && c.History.DBPath == "" {
		return fmt.Errorf("history.db_path: must be set when history is enabled")
	}
	return nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./hfsync.yaml",
		UserConfigPath(),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// UserConfigPath is where Save writes and where Load looks after ./hfsync.yaml.
func UserConfigPath() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "hfsync")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "hfsync")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "hfsync")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "hfsync")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
// Relative fixture paths resolve against the config file's directory.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}

	base := filepath.Dir(path)
	for geo, fixture := range cfg.Session.Fixtures {
		if !filepath.IsAbs(fixture) {
			cfg.Session.Fixtures[geo] = filepath.Join(base, fixture)
		}
	}
	return nil
}
