package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/plotline/internal/cliconfig"
	"github.com/bft-labs/plotline/pkg/log"
)

const helpDescription = `
Job lifecycle engine for pen plotters.

Highlights:
  - Every job runs through a guarded state machine; blocked transitions say why.
  - Transitions are journaled to JSONL and replayed after a crash or power loss.
  - PLOTTING jobs are aborted with an emergency marker on shutdown.
  - Shell hooks fire on state changes; live updates stream over WebSocket.

Configure via file ($HOME/.plotline/config.toml), env (PLOTLINE_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  plotline serve --data-dir ~/.plotline --catalog-db ~/.plotline/catalog.db
  plotline status job-42
  plotline journal cleanup job-42 --keep 100
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration into subcommands.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string
	envFile string
	logger  log.Logger
	out     io.Writer
}

// load resolves configuration with precedence flags > env > file > defaults.
func (c *cli) load(cmd *cobra.Command) error {
	if err := cliconfig.LoadDotEnv(c.envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}

	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	}

	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return fmt.Errorf("env config: %w", err)
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.logger = cliconfig.NewLogger(c.cfg, os.Stderr)
	return nil
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCommand(c *cli) *cobra.Command {
	root := &cobra.Command{
		Use:           "plotline",
		Short:         "Job lifecycle engine for pen plotters",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	cfg := &c.cfg
	f := root.PersistentFlags()
	f.StringVar(&c.cfgPath, cliconfig.FlagConfig, "", "path to config file (default: $HOME/.plotline/config.toml)")
	f.StringVar(&c.envFile, cliconfig.FlagEnvFile, ".env", "dotenv file loaded before PLOTLINE_* variables are read")
	f.StringVar(&cfg.DataDir, cliconfig.FlagDataDir, cfg.DataDir, "data directory (default: $HOME/.plotline)")
	f.StringVar(&cfg.JobsDir, cliconfig.FlagJobsDir, cfg.JobsDir, "journal directory (default: <data-dir>/jobs)")
	f.StringVar(&cfg.HooksFile, cliconfig.FlagHooksFile, cfg.HooksFile, "hooks TOML file (default: <data-dir>/hooks.toml)")
	f.StringVar(&cfg.ListenAddr, cliconfig.FlagListen, cfg.ListenAddr, "HTTP listen address")

	f.DurationVar(&cfg.GuardTimeout, cliconfig.FlagGuardTimeout, cfg.GuardTimeout, "per-guard evaluation timeout")
	f.DurationVar(&cfg.HookTimeout, cliconfig.FlagHookTimeout, cfg.HookTimeout, "per-hook command timeout")
	f.DurationVar(&cfg.ShutdownTimeout, cliconfig.FlagShutdownTimeout, cfg.ShutdownTimeout, "time allowed for hooks and plugins on shutdown")
	f.DurationVar(&cfg.HTTPTimeout, cliconfig.FlagHTTPTimeout, cfg.HTTPTimeout, "timeout for device and camera requests")
	f.IntVar(&cfg.BroadcastQueue, cliconfig.FlagBroadcastQueue, cfg.BroadcastQueue, "per-subscriber broadcast queue length")

	f.IntVar(&cfg.JournalKeep, cliconfig.FlagJournalKeep, cfg.JournalKeep, "events kept per journal on cleanup")
	f.IntVar(&cfg.JournalThreshold, cliconfig.FlagJournalThreshold, cfg.JournalThreshold, "journal length that triggers scheduled cleanup")
	f.StringVar(&cfg.JournalCleanupSchedule, cliconfig.FlagCleanupSchedule, cfg.JournalCleanupSchedule, "cron schedule for journal cleanup")

	f.StringVar(&cfg.CatalogDB, cliconfig.FlagCatalogDB, cfg.CatalogDB, "SQLite catalog for pens, paper sessions and checklists")
	f.StringVar(&cfg.RedisAddr, cliconfig.FlagRedisAddr, cfg.RedisAddr, "Redis address for job statistics (optional)")
	f.StringVar(&cfg.DeviceURL, cliconfig.FlagDeviceURL, cfg.DeviceURL, "device bridge base URL (optional)")
	f.StringVar(&cfg.CameraURL, cliconfig.FlagCameraURL, cfg.CameraURL, "camera base URL (optional)")

	f.StringVar(&cfg.LogLevel, cliconfig.FlagLogLevel, cfg.LogLevel, "log level: debug, info, warn, error")
	f.BoolVar(&cfg.LogJSON, cliconfig.FlagLogJSON, cfg.LogJSON, "log as JSON lines")
	f.BoolVar(&cfg.AllowSelfTransitions, cliconfig.FlagAllowSelfTransitions, cfg.AllowSelfTransitions, "accept transitions to the current state")

	root.AddCommand(
		newServeCommand(c),
		newRecoverCommand(c),
		newStatusCommand(c),
		newResumableCommand(c),
		newJournalCommand(c),
	)
	return root
}

func main() {
	c := &cli{cfg: cliconfig.DefaultConfig(), out: os.Stdout}
	if err := newRootCommand(c).Execute(); err != nil {
		logger := c.logger
		if logger == nil {
			logger = cliconfig.NewLogger(c.cfg, os.Stderr)
		}
		logger.Error("plotline", log.Err(err))
		os.Exit(1)
	}
}
