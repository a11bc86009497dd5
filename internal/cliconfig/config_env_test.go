package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"PLOTLINE_DATA_DIR":         "/env/data",
				"PLOTLINE_LISTEN":           ":9000",
				"PLOTLINE_GUARD_TIMEOUT":    "2s",
				"PLOTLINE_JOURNAL_KEEP":     "100",
				"PLOTLINE_LOG_JSON":         "true",
				"PLOTLINE_REDIS_ADDR":       "localhost:6379",
				"PLOTLINE_CLEANUP_SCHEDULE": "@hourly",
			},
			changed: map[string]bool{},
			expected: Config{
				DataDir:                "/env/data",
				ListenAddr:             ":9000",
				GuardTimeout:           2 * time.Second,
				JournalKeep:            100,
				LogJSON:                true,
				RedisAddr:              "localhost:6379",
				JournalCleanupSchedule: "@hourly",
			},
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"PLOTLINE_DATA_DIR":  "/env/data",
				"PLOTLINE_LOG_LEVEL": "debug",
			},
			changed: map[string]bool{FlagDataDir: true},
			initial: Config{DataDir: "/flag/data"},
			expected: Config{
				DataDir:  "/flag/data",
				LogLevel: "debug",
			},
		},
		{
			name:    "returns error for invalid duration",
			envVars: map[string]string{"PLOTLINE_HOOK_TIMEOUT": "not-a-duration"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:    "returns error for invalid int",
			envVars: map[string]string{"PLOTLINE_BROADCAST_QUEUE": "lots"},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name:     "handles bool '1' as true",
			envVars:  map[string]string{"PLOTLINE_ALLOW_SELF_TRANSITIONS": "1"},
			changed:  map[string]bool{},
			expected: Config{AllowSelfTransitions: true},
		},
		{
			name:     "handles bool 'false' as false",
			envVars:  map[string]string{"PLOTLINE_LOG_JSON": "false"},
			changed:  map[string]bool{},
			initial:  Config{LogJSON: true},
			expected: Config{LogJSON: false},
		},
		{
			name: "handles all field types correctly",
			envVars: map[string]string{
				"PLOTLINE_DATA_DIR":               "/data",
				"PLOTLINE_JOBS_DIR":               "/jobs",
				"PLOTLINE_HOOKS_FILE":             "/hooks.toml",
				"PLOTLINE_LISTEN":                 "127.0.0.1:8420",
				"PLOTLINE_GUARD_TIMEOUT":          "1s",
				"PLOTLINE_HOOK_TIMEOUT":           "1m",
				"PLOTLINE_SHUTDOWN_TIMEOUT":       "10s",
				"PLOTLINE_HTTP_TIMEOUT":           "3s",
				"PLOTLINE_BROADCAST_QUEUE":        "16",
				"PLOTLINE_JOURNAL_KEEP":           "50",
				"PLOTLINE_JOURNAL_THRESHOLD":      "75",
				"PLOTLINE_CLEANUP_SCHEDULE":       "@weekly",
				"PLOTLINE_CATALOG_DB":             "/catalog.db",
				"PLOTLINE_REDIS_ADDR":             "redis:6379",
				"PLOTLINE_DEVICE_URL":             "http://plotter",
				"PLOTLINE_CAMERA_URL":             "http://camera",
				"PLOTLINE_LOG_LEVEL":              "error",
				"PLOTLINE_LOG_JSON":               "1",
				"PLOTLINE_ALLOW_SELF_TRANSITIONS": "true",
			},
			changed: map[string]bool{},
			expected: Config{
				DataDir:                "/data",
				JobsDir:                "/jobs",
				HooksFile:              "/hooks.toml",
				ListenAddr:             "127.0.0.1:8420",
				GuardTimeout:           time.Second,
				HookTimeout:            time.Minute,
				ShutdownTimeout:        10 * time.Second,
				HTTPTimeout:            3 * time.Second,
				BroadcastQueue:         16,
				JournalKeep:            50,
				JournalThreshold:       75,
				JournalCleanupSchedule: "@weekly",
				CatalogDB:              "/catalog.db",
				RedisAddr:              "redis:6379",
				DeviceURL:              "http://plotter",
				CameraURL:              "http://camera",
				LogLevel:               "error",
				LogJSON:                true,
				AllowSelfTransitions:   true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyEnvConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyEnvConfig() unexpected error: %v", err)
				return
			}
			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("PLOTLINE_TEST_DOTENV=from-file\nPLOTLINE_TEST_DOTENV_SET=from-file\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("PLOTLINE_TEST_DOTENV_SET", "from-env")
	t.Setenv("PLOTLINE_TEST_DOTENV", "")
	os.Unsetenv("PLOTLINE_TEST_DOTENV")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("PLOTLINE_TEST_DOTENV"); got != "from-file" {
		t.Errorf("PLOTLINE_TEST_DOTENV = %q, want from-file", got)
	}
	if got := os.Getenv("PLOTLINE_TEST_DOTENV_SET"); got != "from-env" {
		t.Errorf("PLOTLINE_TEST_DOTENV_SET = %q, want from-env (existing env wins)", got)
	}

	if err := LoadDotEnv(filepath.Join(dir, "missing.env")); err != nil {
		t.Errorf("LoadDotEnv() on missing file = %v, want nil", err)
	}
}

func TestConfigPrecedence(t *testing.T) {
	trueVal := true

	fileConf := FileConfig{
		DataDir:    "/file/data",
		LogLevel:   "debug",
		ListenAddr: ":7000",
		LogJSON:    &trueVal,
	}

	t.Setenv("PLOTLINE_DATA_DIR", "/env/data")
	t.Setenv("PLOTLINE_LOG_LEVEL", "warn")
	t.Setenv("PLOTLINE_REDIS_ADDR", "env:6379")

	// Simulate CLI flags
	changed := map[string]bool{FlagDataDir: true}
	cfg := DefaultConfig()
	cfg.DataDir = "/cli/data"

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	// CLI > Env > File > defaults
	if cfg.DataDir != "/cli/data" {
		t.Errorf("DataDir = %v, want /cli/data (CLI should win)", cfg.DataDir)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %v, want warn (env should override file)", cfg.LogLevel)
	}
	if cfg.RedisAddr != "env:6379" {
		t.Errorf("RedisAddr = %v, want env:6379 (env should set)", cfg.RedisAddr)
	}
	if cfg.ListenAddr != ":7000" {
		t.Errorf("ListenAddr = %v, want :7000 (file should set)", cfg.ListenAddr)
	}
	if !cfg.LogJSON {
		t.Errorf("LogJSON = %v, want true (file should set)", cfg.LogJSON)
	}
	if cfg.GuardTimeout != 5*time.Second {
		t.Errorf("GuardTimeout = %v, want default 5s", cfg.GuardTimeout)
	}
}
