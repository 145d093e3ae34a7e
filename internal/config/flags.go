package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagLogFile    = flag.String("log-file", "", "Write logs to this file (rotated)")
	flagAssetDir   = flag.String("out", "", "Directory for generated terrain assets")
	flagScene      = flag.String("scene", "", "Write the built scene as YAML to this file")
	flagPoll       = flag.Duration("poll", 0, "Cook status poll interval (0 = yield only)")
	flagHistoryDB  = flag.String("history-db", "", "Sync history database path")
	flagNoHistory  = flag.Bool("no-history", false, "Do not record syncs in the history database")
	flagSaveConfig = flag.Bool("save-config", false, "Write the effective config to the user config directory")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// SaveRequested reports whether --save-config was given.
func SaveRequested() bool {
	return *flagSaveConfig
}

// explicitFlags returns the names of the flags set on the command line.
func explicitFlags(fs *flag.FlagSet) map[string]bool {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	return set
}

// applyFlags applies CLI flag overrides to the config. Flags whose zero
// value is meaningful only apply when listed in set.
func applyFlags(cfg *Config, set map[string]bool) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if *flagAssetDir != "" {
		cfg.Output.AssetDir = *flagAssetDir
	}
	if *flagScene != "" {
		cfg.Output.SceneFile = *flagScene
	}
	if set["poll"] {
		cfg.Loader.PollInterval = *flagPoll
	}
	if *flagHistoryDB != "" {
		cfg.History.DBPath = *flagHistoryDB
	}
	if *flagNoHistory {
		cfg.History.Enabled = false
	}
}
