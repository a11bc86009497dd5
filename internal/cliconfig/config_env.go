package cliconfig

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from path into the process environment.
// Variables already set are not overridden. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" || !FileExists(path) {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnvConfig applies configuration from environment variables (PLOTLINE_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString(FlagDataDir, os.Getenv("PLOTLINE_DATA_DIR"), &cfg.DataDir)
	s.setString(FlagJobsDir, os.Getenv("PLOTLINE_JOBS_DIR"), &cfg.JobsDir)
	s.setString(FlagHooksFile, os.Getenv("PLOTLINE_HOOKS_FILE"), &cfg.HooksFile)
	s.setString(FlagListen, os.Getenv("PLOTLINE_LISTEN"), &cfg.ListenAddr)
	s.setString(FlagCleanupSchedule, os.Getenv("PLOTLINE_CLEANUP_SCHEDULE"), &cfg.JournalCleanupSchedule)
	s.setString(FlagCatalogDB, os.Getenv("PLOTLINE_CATALOG_DB"), &cfg.CatalogDB)
	s.setString(FlagRedisAddr, os.Getenv("PLOTLINE_REDIS_ADDR"), &cfg.RedisAddr)
	s.setString(FlagDeviceURL, os.Getenv("PLOTLINE_DEVICE_URL"), &cfg.DeviceURL)
	s.setString(FlagCameraURL, os.Getenv("PLOTLINE_CAMERA_URL"), &cfg.CameraURL)
	s.setString(FlagLogLevel, os.Getenv("PLOTLINE_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration(FlagGuardTimeout, os.Getenv("PLOTLINE_GUARD_TIMEOUT"), &cfg.GuardTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagHookTimeout, os.Getenv("PLOTLINE_HOOK_TIMEOUT"), &cfg.HookTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagShutdownTimeout, os.Getenv("PLOTLINE_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration(FlagHTTPTimeout, os.Getenv("PLOTLINE_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString(FlagBroadcastQueue, os.Getenv("PLOTLINE_BROADCAST_QUEUE"), &cfg.BroadcastQueue); err != nil {
		return err
	}
	if err := s.setIntFromString(FlagJournalKeep, os.Getenv("PLOTLINE_JOURNAL_KEEP"), &cfg.JournalKeep); err != nil {
		return err
	}
	if err := s.setIntFromString(FlagJournalThreshold, os.Getenv("PLOTLINE_JOURNAL_THRESHOLD"), &cfg.JournalThreshold); err != nil {
		return err
	}

	s.setBoolFromString(FlagLogJSON, os.Getenv("PLOTLINE_LOG_JSON"), &cfg.LogJSON)
	s.setBoolFromString(FlagAllowSelfTransitions, os.Getenv("PLOTLINE_ALLOW_SELF_TRANSITIONS"), &cfg.AllowSelfTransitions)

	return nil
}
