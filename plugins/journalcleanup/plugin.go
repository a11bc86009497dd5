// Package journalcleanup trims long journals on a cron schedule.
// Only jobs that are not live are touched, and the retained tail keeps
// its order, so a trimmed journal still replays.
package journalcleanup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/bft-labs/plotline/internal/app"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/pkg/log"
)

// Defaults.
const (
	DefaultSchedule  = "@daily"
	DefaultKeep      = 500
	DefaultThreshold = 1000
)

// Plugin runs journal.Store.Cleanup for oversized journals.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	schedule       string
	keep           int
	threshold      int
	runImmediately bool

	// Runtime state
	store  *journal.Store
	isLive func(jobID string) bool
	logger log.Logger
	cron   *cron.Cron
}

// Config holds configuration options for the journal cleanup plugin.
type Config struct {
	// Schedule is a standard cron expression or descriptor.
	// Default: @daily
	Schedule string

	// Keep is the number of most recent entries retained.
	// Default: 500
	Keep int

	// Threshold is the entry count above which a journal is trimmed.
	// Values below Keep are raised to Keep.
	// Default: 1000
	Threshold int

	// RunImmediately runs one pass during Initialize.
	RunImmediately bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Schedule:  DefaultSchedule,
		Keep:      DefaultKeep,
		Threshold: DefaultThreshold,
	}
}

// New creates a journal cleanup plugin.
func New(cfg Config) *Plugin {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.Threshold < cfg.Keep {
		cfg.Threshold = cfg.Keep
	}
	return &Plugin{
		schedule:       cfg.Schedule,
		keep:           cfg.Keep,
		threshold:      cfg.Threshold,
		runImmediately: cfg.RunImmediately,
		logger:         log.NewNoopLogger(),
		isLive:         func(string) bool { return false },
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "journalcleanup"
}

// Initialize schedules the cleanup job.
func (p *Plugin) Initialize(ctx context.Context, cfg app.PluginConfig) error {
	if cfg.Journal == nil {
		return errors.New("journalcleanup: journal store is required")
	}
	var live func(string) bool
	if cfg.Coordinator != nil {
		coord := cfg.Coordinator
		live = func(id string) bool {
			_, ok := coord.Lookup(id)
			return ok
		}
	}
	return p.start(ctx, cfg.Journal, live, cfg.Logger)
}

func (p *Plugin) start(ctx context.Context, store *journal.Store, live func(string) bool, logger log.Logger) error {
	p.mu.Lock()
	p.store = store
	if live != nil {
		p.isLive = live
	}
	p.logger = log.OrNoop(logger).With(log.String("plugin", p.Name()))
	p.mu.Unlock()

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(p.schedule, func() { _, _ = p.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("journalcleanup: schedule %q: %w", p.schedule, err)
	}

	if p.runImmediately {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Warn("initial journal cleanup failed", log.Err(err))
		}
	}

	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()
	c.Start()

	p.logger.Info("journal cleanup scheduled",
		log.String("schedule", p.schedule),
		log.Int("keep", p.keep),
		log.Int("threshold", p.threshold),
	)
	return nil
}

// Shutdown stops the schedule and waits for a running pass.
func (p *Plugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce trims every non-live journal above the threshold and returns the
// entries removed per job. Per-job failures are logged and skipped.
func (p *Plugin) RunOnce(ctx context.Context) (map[string]int, error) {
	p.mu.Lock()
	store, isLive, logger := p.store, p.isLive, p.logger
	p.mu.Unlock()
	if store == nil {
		return nil, errors.New("journalcleanup: not initialized")
	}

	ids, err := store.JobIDs()
	if err != nil {
		return nil, err
	}
	removed := map[string]int{}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if isLive(id) {
			continue
		}
		n, err := store.Count(id)
		if err != nil {
			logger.Warn("journal count failed", log.String("job_id", id), log.Err(err))
			continue
		}
		if n <= p.threshold {
			continue
		}
		r, err := store.Cleanup(id, p.keep)
		if err != nil {
			logger.Error("journal cleanup failed", log.String("job_id", id), log.Err(err))
			continue
		}
		if r > 0 {
			removed[id] = r
		}
	}
	return removed, nil
}

var _ app.Plugin = (*Plugin)(nil)
