package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	// Test data defaults
	if cfg.Data.Root != "data" {
		t.Errorf("expected data root 'data', got %s", cfg.Data.Root)
	}
	if cfg.Data.BaseMesh == "" || cfg.Data.Targets == "" || cfg.Data.Modifiers == "" {
		t.Errorf("expected base mesh, targets and modifiers to be set: %+v", cfg.Data)
	}
	if len(cfg.Data.ProxyDirs) != 8 {
		t.Errorf("expected one proxy dir per slot, got %v", cfg.Data.ProxyDirs)
	}

	// Test engine defaults
	if cfg.Engine.Workers != 0 {
		t.Errorf("expected workers 0, got %d", cfg.Engine.Workers)
	}
	if !cfg.Engine.Incremental {
		t.Error("expected incremental to be true by default")
	}
	if !cfg.Engine.HideFaces {
		t.Error("expected hide_faces to be true by default")
	}
	if cfg.Engine.StrictLoad {
		t.Error("expected strict_load to be false by default")
	}

	// Test logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "" {
		t.Errorf("expected empty log file, got %s", cfg.Logging.LogFile)
	}
	if cfg.Logging.MaxSizeMB != 50 || cfg.Logging.MaxBackups != 3 || cfg.Logging.MaxAgeDays != 7 || !cfg.Logging.Compress {
		t.Errorf("unexpected rotation defaults: %+v", cfg.Logging)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
data:
  root: /srv/makehuman
  base_mesh: base.obj
  proxy_dirs: [clothes]

engine:
  workers: 4
  grain: 512
  compile_targets: false
  strict_load: true
  bvh_z_up: true
  bone_map:
    LeftArm: upperarm01.L

logging:
  level: "debug"
  log_file: "mhcore.log"
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Load config
	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Verify values were loaded
	if cfg.Data.Root != "/srv/makehuman" {
		t.Errorf("expected root /srv/makehuman, got %s", cfg.Data.Root)
	}
	if got := cfg.Data.Path(cfg.Data.BaseMesh); got != filepath.Join("/srv/makehuman", "base.obj") {
		t.Errorf("expected base mesh below root, got %s", got)
	}
	if len(cfg.Data.ProxyDirs) != 1 || cfg.Data.ProxyDirs[0] != "clothes" {
		t.Errorf("expected proxy dirs [clothes], got %v", cfg.Data.ProxyDirs)
	}
	// Keys absent from the file keep their defaults
	if cfg.Data.Targets != "targets" {
		t.Errorf("expected default targets dir, got %s", cfg.Data.Targets)
	}

	if cfg.Engine.Workers != 4 || cfg.Engine.Grain != 512 {
		t.Errorf("expected workers 4 grain 512, got %d %d", cfg.Engine.Workers, cfg.Engine.Grain)
	}
	if cfg.Engine.CompileTargets {
		t.Error("expected compile_targets to be false")
	}
	if !cfg.Engine.StrictLoad || !cfg.Engine.BVHZUp {
		t.Error("expected strict_load and bvh_z_up to be true")
	}
	if cfg.Engine.BoneMap["LeftArm"] != "upperarm01.L" {
		t.Errorf("expected bone map entry, got %v", cfg.Engine.BoneMap)
	}
	if !cfg.Engine.Incremental {
		t.Error("expected incremental to keep its default")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
	}
	if cfg.Logging.LogFile != "mhcore.log" {
		t.Errorf("expected log file 'mhcore.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	// Create temporary config file with invalid YAML
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
engine:
  workers: not a number
  invalid syntax here
`

	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Try to load - should error
	cfg := Default()
	err := loadFromFile(cfg, configPath)
	if err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	err := loadFromFile(cfg, "/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Engine.Workers = -1 }},
		{"negative grain", func(c *Config) { c.Engine.Grain = -8 }},
		{"unknown level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"no base mesh", func(c *Config) { c.Data.BaseMesh = "" }},
		{"negative log backups", func(c *Config) { c.Logging.MaxBackups = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestDataPath(t *testing.T) {
	d := DataConfig{Root: "/data"}
	if got := d.Path("rigs/default.mhskel"); got != filepath.Join("/data", "rigs", "default.mhskel") {
		t.Errorf("relative path = %s", got)
	}
	if got := d.Path("/abs/base.obj"); got != "/abs/base.obj" {
		t.Errorf("absolute path = %s", got)
	}
	if got := d.Path(""); got != "" {
		t.Errorf("empty path = %q", got)
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()

	// Just verify it returns a non-empty path
	// Actual path depends on OS
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}

	// Verify path is absolute
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	// Save current directory
	origDir, _ := os.Getwd()
	defer os.Chdir(origDir)

	// Create temp directory and change to it
	tmpDir := t.TempDir()
	os.Chdir(tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "xdg"))

	// No config file exists - should return empty
	path := findConfigFile()
	if path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	// Create config.yaml in current directory
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("engine:\n  workers: 2\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}

	// Should find it now
	path = findConfigFile()
	if path == "" {
		t.Error("expected to find config.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "data flag",
			setup: func() { *flagData = "/opt/mh" },
			verify: func(cfg *Config) {
				if cfg.Data.Root != "/opt/mh" {
					t.Errorf("expected data root /opt/mh, got %s", cfg.Data.Root)
				}
			},
			teardown: func() { *flagData = "" },
		},
		{
			name:  "workers flag",
			setup: func() { *flagWorkers = 3 },
			verify: func(cfg *Config) {
				if cfg.Engine.Workers != 3 {
					t.Errorf("expected workers 3, got %d", cfg.Engine.Workers)
				}
			},
			teardown: func() { *flagWorkers = 0 },
		},
		{
			name:  "strict flag",
			setup: func() { *flagStrict = true },
			verify: func(cfg *Config) {
				if !cfg.Engine.StrictLoad {
					t.Error("expected strict_load with strict flag")
				}
			},
			teardown: func() { *flagStrict = false },
		},
		{
			name:  "log flag",
			setup: func() { *flagLogFile = "run.log" },
			verify: func(cfg *Config) {
				if cfg.Logging.LogFile != "run.log" {
					t.Errorf("expected log file run.log, got %s", cfg.Logging.LogFile)
				}
			},
			teardown: func() { *flagLogFile = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			tt.setup()
			defer tt.teardown()

			// Apply flags to default config
			cfg := Default()
			applyFlags(cfg)

			// Verify
			tt.verify(cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	// Create temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
engine:
  workers: 2
  grain: 256
`

	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	// Set flag to override config file
	*flagConfig = configPath
	*flagWorkers = 8
	defer func() {
		*flagConfig = ""
		*flagWorkers = 0
	}()

	// Load config
	cfg, err := Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	// Workers should be from flag (8), not file (2)
	if cfg.Engine.Workers != 8 {
		t.Errorf("expected workers 8 from flag, got %d", cfg.Engine.Workers)
	}

	// Grain should be from file (256) since no flag override
	if cfg.Engine.Grain != 256 {
		t.Errorf("expected grain 256 from file, got %d", cfg.Engine.Grain)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Engine.Workers = 6
	cfg.Engine.BoneMap = map[string]string{"Hips": "root"}
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	back := Default()
	if err := loadFromFile(back, path); err != nil {
		t.Fatalf("loadFromFile: %v", err)
	}
	if back.Engine.Workers != 6 || back.Engine.BoneMap["Hips"] != "root" {
		t.Errorf("round trip lost values: %+v", back.Engine)
	}
}

func TestSaveToRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  workers: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := Default()
	cfg.Engine.Workers = -1
	if err := cfg.SaveTo(path); err == nil {
		t.Fatal("expected SaveTo to reject an invalid config")
	}

	// The previous file is untouched and no temp files are left behind
	back := Default()
	if err := loadFromFile(back, path); err != nil || back.Engine.Workers != 2 {
		t.Errorf("previous config lost: workers %d, err %v", back.Engine.Workers, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("unexpected files after failed save: %v", entries)
	}
}

func TestSave(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("APPDATA", t.TempDir())
	path, err := Default().Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != filepath.Join(ConfigDir(), "config.yaml") {
		t.Errorf("saved to %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("saved file missing: %v", err)
	}
}
