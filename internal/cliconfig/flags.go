package cliconfig

// Flag names shared by the CLI, the file layer and the env layer.
const (
	FlagConfig               = "config"
	FlagEnvFile              = "env-file"
	FlagDataDir              = "data-dir"
	FlagJobsDir              = "jobs-dir"
	FlagHooksFile            = "hooks-file"
	FlagListen               = "listen"
	FlagGuardTimeout         = "guard-timeout"
	FlagHookTimeout          = "hook-timeout"
	FlagShutdownTimeout      = "shutdown-timeout"
	FlagHTTPTimeout          = "http-timeout"
	FlagBroadcastQueue       = "broadcast-queue"
	FlagJournalKeep          = "journal-keep"
	FlagJournalThreshold     = "journal-threshold"
	FlagCleanupSchedule      = "cleanup-schedule"
	FlagCatalogDB            = "catalog-db"
	FlagRedisAddr            = "redis-addr"
	FlagDeviceURL            = "device-url"
	FlagCameraURL            = "camera-url"
	FlagLogLevel             = "log-level"
	FlagLogJSON              = "log-json"
	FlagAllowSelfTransitions = "allow-self-transitions"
)
