package config

import "flag"

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagData    = flag.String("data", "", "Data root directory")
	flagWorkers = flag.Int("workers", 0, "Worker goroutines for parallel passes")
	flagStrict  = flag.Bool("strict", false, "Fail on any problem while loading saved state")
	flagLogFile = flag.String("log", "", "Log file path")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the arguments left after flag parsing.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagData != "" {
		cfg.Data.Root = *flagData
	}
	if *flagWorkers > 0 {
		cfg.Engine.Workers = *flagWorkers
	}
	if *flagStrict {
		cfg.Engine.StrictLoad = true
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
}
