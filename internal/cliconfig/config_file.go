package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DataDir                string `toml:"data_dir"`
	JobsDir                string `toml:"jobs_dir"`
	HooksFile              string `toml:"hooks_file"`
	ListenAddr             string `toml:"listen"`
	GuardTimeout           string `toml:"guard_timeout"`
	HookTimeout            string `toml:"hook_timeout"`
	ShutdownTimeout        string `toml:"shutdown_timeout"`
	HTTPTimeout            string `toml:"http_timeout"`
	BroadcastQueue         int    `toml:"broadcast_queue"`
	JournalKeep            int    `toml:"journal_keep"`
	JournalThreshold       int    `toml:"journal_threshold"`
	JournalCleanupSchedule string `toml:"cleanup_schedule"`
	CatalogDB              string `toml:"catalog_db"`
	RedisAddr              string `toml:"redis_addr"`
	DeviceURL              string `toml:"device_url"`
	CameraURL              string `toml:"camera_url"`
	LogLevel               string `toml:"log_level"`
	LogJSON                *bool  `toml:"log_json"`
	AllowSelfTransitions   *bool  `toml:"allow_self_transitions"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.plotline/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".plotline", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString(FlagDataDir, fc.DataDir, &cfg.DataDir)
	s.setString(FlagJobsDir, fc.JobsDir, &cfg.JobsDir)
	s.setString(FlagHooksFile, fc.HooksFile, &cfg.HooksFile)
	s.setString(FlagListen, fc.ListenAddr, &cfg.ListenAddr)
	s.setString(FlagCleanupSchedule, fc.JournalCleanupSchedule, &cfg.JournalCleanupSchedule)
	s.setString(FlagCatalogDB, fc.CatalogDB, &cfg.CatalogDB)
	s.setString(FlagRedisAddr, fc.RedisAddr, &cfg.RedisAddr)
	s.setString(FlagDeviceURL, fc.DeviceURL, &cfg.DeviceURL)
	s.setString(FlagCameraURL, fc.CameraURL, &cfg.CameraURL)
	s.setString(FlagLogLevel, fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration(FlagGuardTimeout, fc.GuardTimeout, &cfg.GuardTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagHookTimeout, fc.HookTimeout, &cfg.HookTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagShutdownTimeout, fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagHTTPTimeout, fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt(FlagBroadcastQueue, fc.BroadcastQueue, &cfg.BroadcastQueue)
	s.setInt(FlagJournalKeep, fc.JournalKeep, &cfg.JournalKeep)
	s.setInt(FlagJournalThreshold, fc.JournalThreshold, &cfg.JournalThreshold)

	s.setBool(FlagLogJSON, fc.LogJSON, &cfg.LogJSON)
	s.setBool(FlagAllowSelfTransitions, fc.AllowSelfTransitions, &cfg.AllowSelfTransitions)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
