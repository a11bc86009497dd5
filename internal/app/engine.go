// Package app wires the job lifecycle engine: journal, guards, hooks,
// broadcast hub and recovery coordinator behind one Start/Stop surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/plotline/internal/broadcast"
	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/fsm"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/hooks"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/internal/metrics"
	"github.com/bft-labs/plotline/internal/ports"
	"github.com/bft-labs/plotline/internal/recovery"
	"github.com/bft-labs/plotline/pkg/log"
)

// DefaultShutdownTimeout bounds how long Stop waits for in-flight hooks.
const DefaultShutdownTimeout = 30 * time.Second

// Config holds the engine settings.
type Config struct {
	// JobsDir holds one sub-directory per job with its journal.jsonl.
	JobsDir string
	// HooksFile is the hooks TOML file. Empty or missing means no hooks.
	HooksFile string

	GuardTimeout    time.Duration
	HookTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BroadcastQueue is the per-client outbound queue length.
	BroadcastQueue int

	// AllowSelfTransitions permits X -> X edges when the table lists them.
	AllowSelfTransitions bool
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.GuardTimeout <= 0 {
		c.GuardTimeout = guard.DefaultTimeout
	}
	if c.HookTimeout <= 0 {
		c.HookTimeout = hooks.DefaultTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.BroadcastQueue <= 0 {
		c.BroadcastQueue = broadcast.DefaultQueueSize
	}
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.JobsDir == "" {
		return errors.New("jobs dir is required")
	}
	return nil
}

type options struct {
	logger      log.Logger
	guards      *guard.Registry
	guardDeps   guard.Dependencies
	stats       ports.StatisticsService
	plugins     []Plugin
	registerer  prometheus.Registerer
	runner      hooks.Runner
	listeners   []PhaseListener
	syncHooks   bool
	journalOpts []journal.Option
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine logger. Components get a child logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithGuardRegistry replaces the built-in guard registry.
func WithGuardRegistry(r *guard.Registry) Option {
	return func(o *options) { o.guards = r }
}

// WithGuardDependencies sets the collaborators for the built-in guards.
func WithGuardDependencies(d guard.Dependencies) Option {
	return func(o *options) { o.guardDeps = d }
}

// WithStatistics sets the statistics sink used by the hook dispatcher.
func WithStatistics(s ports.StatisticsService) Option {
	return func(o *options) { o.stats = s }
}

// WithPlugin adds a plugin.
func WithPlugin(p Plugin) Option {
	return func(o *options) { o.plugins = append(o.plugins, p) }
}

// WithMetrics registers the engine collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithHookRunner replaces the command runner.
func WithHookRunner(r hooks.Runner) Option {
	return func(o *options) { o.runner = r }
}

// WithPhaseListener receives engine phase changes. Every change is also
// published on the system broadcast channel.
func WithPhaseListener(l PhaseListener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// WithSynchronousHooks runs hooks inline with the transition.
func WithSynchronousHooks() Option {
	return func(o *options) { o.syncHooks = true }
}

// WithJournalOptions passes options to the journal store.
func WithJournalOptions(opts ...journal.Option) Option {
	return func(o *options) { o.journalOpts = append(o.journalOpts, opts...) }
}

// Engine is the job lifecycle engine. It is single-use: once stopped, the
// emergency shutdown has run and a new Engine is needed.
type Engine struct {
	cfg     Config
	logger  log.Logger
	phase   *phaseTracker
	plugins []Plugin

	store       *journal.Store
	guards      *guard.Registry
	dispatcher  *hooks.Dispatcher
	hub         *broadcast.Hub
	coordinator *recovery.Coordinator
	metrics     *metrics.Recorder

	mu     sync.Mutex
	cancel context.CancelFunc
	report recovery.Report
}

// New builds an engine in PhaseIdle. A malformed hooks file is an error.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.OrNoop(o.logger)

	var rec *metrics.Recorder
	if o.registerer != nil {
		rec = metrics.NewRecorder(o.registerer)
	}

	table, err := hooks.LoadFile(cfg.HooksFile)
	if err != nil {
		return nil, fmt.Errorf("load hooks: %w", err)
	}

	store := journal.NewStore(cfg.JobsDir, append([]journal.Option{
		journal.WithLogger(logger.With(log.String("component", "journal"))),
	}, o.journalOpts...)...)

	hubOpts := []broadcast.Option{
		broadcast.WithQueueSize(cfg.BroadcastQueue),
		broadcast.WithLogger(logger.With(log.String("component", "broadcast"))),
	}
	if rec != nil {
		hubOpts = append(hubOpts, broadcast.WithDropObserver(rec.BroadcastDrop))
	}
	hub := broadcast.NewHub(hubOpts...)

	dispOpts := []hooks.Option{
		hooks.WithTable(table),
		hooks.WithBroadcaster(hub),
		hooks.WithLogger(logger.With(log.String("component", "hooks"))),
		hooks.WithDefaultTimeout(cfg.HookTimeout),
		hooks.WithRunner(o.runner),
		hooks.WithSynchronous(o.syncHooks),
	}
	if o.stats != nil {
		dispOpts = append(dispOpts, hooks.WithStatistics(o.stats))
	}
	if rec != nil {
		dispOpts = append(dispOpts, hooks.WithObserver(rec.HookRun))
	}
	dispatcher := hooks.NewDispatcher(dispOpts...)

	guards := o.guards
	if guards == nil {
		guardOpts := []guard.Option{
			guard.WithTimeout(cfg.GuardTimeout),
			guard.WithLogger(logger.With(log.String("component", "guard"))),
		}
		if rec != nil {
			guardOpts = append(guardOpts, guard.WithObserver(rec.GuardResult))
		}
		guards = guard.DefaultRegistry(o.guardDeps, guardOpts...)
	}

	machineOpts := []fsm.Option{
		fsm.WithGuards(guards),
		fsm.WithNotifier(dispatcher),
		fsm.WithLogger(logger.With(log.String("component", "fsm"))),
		fsm.WithSelfTransitions(cfg.AllowSelfTransitions),
	}
	coordOpts := []recovery.Option{
		recovery.WithLogger(logger.With(log.String("component", "recovery"))),
	}
	if rec != nil {
		machineOpts = append(machineOpts, fsm.WithObserver(rec))
		coordOpts = append(coordOpts, recovery.WithShutdownObserver(rec.EmergencyShutdown))
	}
	coordOpts = append(coordOpts, recovery.WithMachineOptions(machineOpts...))
	coordinator := recovery.NewCoordinator(store, coordOpts...)

	if rec != nil {
		rec.RegisterGauges(
			func() float64 { return float64(hub.Connections()) },
			func() float64 { return float64(coordinator.LiveCount()) },
		)
	}

	publish := PhaseListenerFunc(func(c PhaseChange) { hub.Publish(broadcast.ChannelSystem, c) })
	return &Engine{
		cfg:         cfg,
		logger:      logger,
		phase:       newPhaseTracker(logger, append([]PhaseListener{publish}, o.listeners...)...),
		plugins:     o.plugins,
		store:       store,
		guards:      guards,
		dispatcher:  dispatcher,
		hub:         hub,
		coordinator: coordinator,
		metrics:     rec,
	}, nil
}

// Start replays every journal, repairing jobs an emergency shutdown left
// unsafe, then initializes plugins. A failure leaves the engine crashed and
// Start may be retried.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.coordinator.IsShutdown() {
		return domain.ErrShutdown
	}
	if err := e.phase.advance(PhaseChange{To: PhaseRecovering, Reason: "start"}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	rep, err := e.coordinator.RecoverAll(runCtx)
	if err != nil {
		cancel()
		_ = e.phase.advance(PhaseChange{To: PhaseCrashed, Reason: "recovery: " + err.Error()})
		return fmt.Errorf("recover jobs: %w", err)
	}
	e.report = rep

	pluginCfg := PluginConfig{
		JobsDir:     e.cfg.JobsDir,
		HooksFile:   e.cfg.HooksFile,
		Journal:     e.store,
		Coordinator: e.coordinator,
		Dispatcher:  e.dispatcher,
		Logger:      e.logger,
	}
	for i, p := range e.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			e.logger.Error("plugin initialization failed",
				log.String("plugin", p.Name()),
				log.Err(err))
			e.shutdownPlugins(e.plugins[:i])
			cancel()
			_ = e.phase.advance(PhaseChange{
				To:        PhaseCrashed,
				Reason:    "plugin " + p.Name() + ": " + err.Error(),
				Recovered: len(rep.Recovered),
				Repaired:  rep.Repaired,
				Failed:    failedIDs(rep),
			})
			return err
		}
		e.logger.Info("plugin initialized", log.String("plugin", p.Name()))
	}

	return e.phase.advance(PhaseChange{
		To:        PhaseServing,
		Reason:    "recovery complete",
		Recovered: len(rep.Recovered),
		Repaired:  rep.Repaired,
		Failed:    failedIDs(rep),
	})
}

func failedIDs(rep recovery.Report) []string {
	if len(rep.Failed) == 0 {
		return nil
	}
	out := make([]string, 0, len(rep.Failed))
	for id := range rep.Failed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stop runs the emergency shutdown with recovery.ReasonExit, then waits for
// in-flight hooks. It returns domain.ErrShutdownTimeout if they outlive
// the shutdown timeout.
func (e *Engine) Stop() error {
	return e.Shutdown(recovery.ReasonExit)
}

// Shutdown is Stop with an explicit emergency reason, such as
// recovery.ReasonSignal. Live jobs are sealed first, so a transition still
// evaluating guards cannot commit once the engine is draining.
func (e *Engine) Shutdown(reason string) error {
	e.mu.Lock()
	if e.phase.get() != PhaseServing {
		e.mu.Unlock()
		return domain.ErrNotRunning
	}
	aborted := e.coordinator.ShutdownAll(reason)
	if len(aborted) > 0 {
		e.logger.Warn("plotting jobs aborted", log.Strings("job_ids", aborted), log.String("reason", reason))
	}
	if err := e.phase.advance(PhaseChange{To: PhaseDraining, Reason: reason, Aborted: aborted}); err != nil {
		e.mu.Unlock()
		return err
	}
	cancel := e.cancel
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.shutdownPlugins(e.plugins)

	var err error
	if !e.dispatcher.WaitTimeout(e.cfg.ShutdownTimeout) {
		e.logger.Warn("shutdown timeout, hooks still running", log.Duration("timeout", e.cfg.ShutdownTimeout))
		err = domain.ErrShutdownTimeout
	}
	if err != nil {
		_ = e.phase.advance(PhaseChange{To: PhaseCrashed, Reason: "hooks outlived shutdown timeout"})
	} else {
		_ = e.phase.advance(PhaseChange{To: PhaseStopped, Reason: reason})
	}
	e.hub.Close()
	return err
}

func (e *Engine) shutdownPlugins(ps []Plugin) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancel()
	for i := len(ps) - 1; i >= 0; i-- {
		p := ps[i]
		if err := p.Shutdown(ctx); err != nil {
			e.logger.Error("plugin shutdown failed",
				log.String("plugin", p.Name()),
				log.Err(err))
		} else {
			e.logger.Info("plugin shutdown complete", log.String("plugin", p.Name()))
		}
	}
}

// Phase returns the engine phase.
func (e *Engine) Phase() Phase {
	return e.phase.get()
}

// RecoveryReport returns the report of the last Start.
func (e *Engine) RecoveryReport() recovery.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// CreateJob registers a NEW job. Its journal is written on the first
// transition.
func (e *Engine) CreateJob(jobID string) (*fsm.Machine, error) {
	if !e.phase.get().accepting() {
		return nil, domain.ErrNotRunning
	}
	if err := journal.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	if _, ok := e.coordinator.Lookup(jobID); ok || e.store.Exists(jobID) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobExists, jobID)
	}
	m := e.coordinator.NewMachine(jobID)
	if err := e.coordinator.Register(m); err != nil {
		if errors.Is(err, domain.ErrAlreadyRegistered) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobExists, jobID)
		}
		return nil, err
	}
	e.logger.Info("job created", log.String("job_id", jobID))
	return m, nil
}

// Job returns the live machine for jobID, recovering it from its journal if
// needed. Recovered non-terminal jobs are registered.
func (e *Engine) Job(ctx context.Context, jobID string) (*fsm.Machine, error) {
	if !e.phase.get().accepting() {
		return nil, domain.ErrNotRunning
	}
	if err := journal.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	if m, ok := e.coordinator.Lookup(jobID); ok {
		return m, nil
	}
	m, err := e.coordinator.RecoverJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if m.IsTerminal() {
		return m, nil
	}
	if err := e.coordinator.Register(m); err != nil {
		if live, ok := e.coordinator.Lookup(jobID); ok && errors.Is(err, domain.ErrAlreadyRegistered) {
			return live, nil
		}
		return nil, err
	}
	return m, nil
}

// Transition moves jobID to the target state. A job reaching a terminal
// state is released from the registry.
func (e *Engine) Transition(ctx context.Context, jobID string, to domain.JobState, reason string, md domain.Metadata) (fsm.Outcome, error) {
	m, err := e.Job(ctx, jobID)
	if err != nil {
		return fsm.Outcome{}, err
	}
	out, err := m.Transition(ctx, to, reason, md)
	if err != nil {
		return out, err
	}
	if m.IsTerminal() {
		e.coordinator.Unregister(jobID)
	}
	return out, nil
}

// Status reports jobID from its journal, or from memory for a live job
// that has no journal yet.
func (e *Engine) Status(jobID string) (recovery.Status, error) {
	if err := journal.ValidateJobID(jobID); err != nil {
		return recovery.Status{}, err
	}
	return e.coordinator.JobStatus(jobID)
}

// Resumable lists jobs that are neither COMPLETED nor ABORTED.
func (e *Engine) Resumable() ([]string, error) {
	return e.coordinator.ResumableJobs()
}

// History returns jobID's transitions, oldest first.
func (e *Engine) History(jobID string) ([]domain.Transition, error) {
	if err := journal.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	if m, ok := e.coordinator.Lookup(jobID); ok {
		return m.History(), nil
	}
	events, err := e.store.ReadAll(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrJobNotFound, jobID, err)
	}
	out := make([]domain.Transition, 0, len(events))
	for _, ev := range events {
		if sc, ok := ev.(journal.StateChange); ok {
			out = append(out, sc.Transition())
		}
	}
	return out, nil
}

// Coordinator returns the recovery coordinator.
func (e *Engine) Coordinator() *recovery.Coordinator { return e.coordinator }

// Hub returns the broadcast hub.
func (e *Engine) Hub() *broadcast.Hub { return e.hub }

// Dispatcher returns the hook dispatcher.
func (e *Engine) Dispatcher() *hooks.Dispatcher { return e.dispatcher }

// Guards returns the guard registry.
func (e *Engine) Guards() *guard.Registry { return e.guards }

// Journal returns the journal store.
func (e *Engine) Journal() *journal.Store { return e.store }
