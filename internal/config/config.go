// Package config handles tool configuration loading and management.
package config

import "path/filepath"

// Config holds all settings.
type Config struct {
	Data    DataConfig    `yaml:"data"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
}

// DataConfig holds data file paths. Relative paths resolve against Root.
type DataConfig struct {
	Root      string   `yaml:"root"`
	BaseMesh  string   `yaml:"base_mesh"`
	Targets   string   `yaml:"targets"`
	Modifiers string   `yaml:"modifiers"`
	Skeleton  string   `yaml:"skeleton"`
	Weights   string   `yaml:"weights"`
	ProxyDirs []string `yaml:"proxy_dirs"`
	PoseDirs  []string `yaml:"pose_dirs"`
	CacheDir  string   `yaml:"cache_dir"` // compiled targets; empty writes next to the source
}

// Path resolves p against the data root.
func (d DataConfig) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.Root, filepath.FromSlash(p))
}

// EngineConfig holds evaluation settings.
type EngineConfig struct {
	Workers        int               `yaml:"workers"` // 0 uses GOMAXPROCS
	Grain          int               `yaml:"grain"`   // minimum items per parallel chunk
	CompileTargets bool              `yaml:"compile_targets"`
	Incremental    bool              `yaml:"incremental"`
	HideFaces      bool              `yaml:"hide_faces"`
	StrictLoad     bool              `yaml:"strict_load"`
	BVHZUp         bool              `yaml:"bvh_z_up"`
	BVHScaleBone   string            `yaml:"bvh_scale_bone"`
	BoneMap        map[string]string `yaml:"bone_map"`
}

// LoggingConfig holds logging settings. The rotation settings apply only
// when LogFile is set.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Root:      "data",
			BaseMesh:  "3dobjs/base.obj",
			Targets:   "targets",
			Modifiers: "modifiers/modeling_modifiers.json",
			Skeleton:  "rigs/default.mhskel",
			Weights:   "rigs/default_weights.json",
			ProxyDirs: []string{"clothes", "hair", "eyes", "eyebrows", "eyelashes", "teeth", "tongue", "proxymeshes"},
			PoseDirs:  []string{"poses"},
		},
		Engine: EngineConfig{
			Workers:        0,
			Grain:          2048,
			CompileTargets: true,
			Incremental:    true,
			HideFaces:      true,
			StrictLoad:     false,
			BVHZUp:         false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}
