// Package config handles hfsync configuration loading and management.
package config

import (
	"path/filepath"
	"time"
)

// Config holds all sync settings.
type Config struct {
	Session SessionConfig `yaml:"session"`
	Loader  LoaderConfig  `yaml:"loader"`
	Output  OutputConfig  `yaml:"output"`
	History HistoryConfig `yaml:"history"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

// SessionConfig holds engine session settings.
type SessionConfig struct {
	Fixtures  map[string]string `yaml:"fixtures"`   // Geometry file -> fixture YAML served for it
	CookSteps int               `yaml:"cook_steps"` // Status polls before a cook finishes
}

// LoaderConfig holds load task settings.
type LoaderConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"` // 0 = yield only
	Extensions   []string      `yaml:"extensions"`    // Accepted geometry file suffixes
}

// OutputConfig holds generated output settings.
type OutputConfig struct {
	AssetDir    string `yaml:"asset_dir"`    // Where terrain data assets are written
	SceneFile   string `yaml:"scene_file"`   // Optional YAML dump of the built scene
	PreviewMesh bool   `yaml:"preview_mesh"` // Attach a grid mesh to each tile node
}

// HistoryConfig holds the sync history index settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Fixtures:  map[string]string{},
			CookSteps: 3,
		},
		Loader: LoaderConfig{
			PollInterval: 10 * time.Millisecond,
			Extensions:   []string{".bgeo", ".bgeo.sc"},
		},
		Output: OutputConfig{
			AssetDir: "hfsync_assets",
		},
		History: HistoryConfig{
			Enabled: true,
			DBPath:  filepath.Join(ConfigDir(), "history.db"),
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
