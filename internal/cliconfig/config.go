package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/plotline/internal/app"
)

// DefaultListenAddr is where the HTTP API listens by default.
const DefaultListenAddr = ":8420"

// Config holds CLI configuration for plotline.
type Config struct {
	DataDir   string
	JobsDir   string
	HooksFile string

	ListenAddr string

	GuardTimeout    time.Duration
	HookTimeout     time.Duration
	ShutdownTimeout time.Duration
	HTTPTimeout     time.Duration

	BroadcastQueue int

	JournalKeep            int
	JournalThreshold       int
	JournalCleanupSchedule string

	CatalogDB string
	RedisAddr string
	DeviceURL string
	CameraURL string

	LogLevel string
	LogJSON  bool

	AllowSelfTransitions bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:             DefaultListenAddr,
		GuardTimeout:           5 * time.Second,
		HookTimeout:            30 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		HTTPTimeout:            5 * time.Second,
		BroadcastQueue:         64,
		JournalKeep:            500,
		JournalThreshold:       1000,
		JournalCleanupSchedule: "@daily",
		LogLevel:               "info",
	}
}

// DefaultDataDir returns ~/.plotline, or "" if the home directory is unknown.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".plotline")
	}
	return ""
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.JobsDir == "" {
		if c.DataDir == "" {
			return fmt.Errorf("data-dir is required (or jobs-dir)")
		}
		c.JobsDir = filepath.Join(c.DataDir, "jobs")
	}
	if c.HooksFile == "" && c.DataDir != "" {
		c.HooksFile = filepath.Join(c.DataDir, "hooks.toml")
	}

	c.DeviceURL = strings.TrimRight(c.DeviceURL, "/")
	c.CameraURL = strings.TrimRight(c.CameraURL, "/")

	if c.GuardTimeout <= 0 {
		return fmt.Errorf("guard timeout must be positive")
	}
	if c.HookTimeout <= 0 {
		return fmt.Errorf("hook timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.JournalKeep <= 0 {
		return fmt.Errorf("journal keep must be positive")
	}
	if c.JournalThreshold < c.JournalKeep {
		c.JournalThreshold = c.JournalKeep
	}
	return nil
}

// EngineConfig converts to the engine settings.
func (c Config) EngineConfig() app.Config {
	return app.Config{
		JobsDir:              c.JobsDir,
		HooksFile:            c.HooksFile,
		GuardTimeout:         c.GuardTimeout,
		HookTimeout:          c.HookTimeout,
		ShutdownTimeout:      c.ShutdownTimeout,
		BroadcastQueue:       c.BroadcastQueue,
		AllowSelfTransitions: c.AllowSelfTransitions,
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
