// Package plotline embeds the pen-plotter job lifecycle engine.
//
// Example usage:
//
//	e, err := plotline.New(plotline.Config{JobsDir: "/var/lib/plotline/jobs"},
//	    plotline.WithLogger(log.NewZerologLogger(log.Options{})),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := e.Start(ctx); err != nil {
//	    return err
//	}
//	defer e.Stop()
//
//	if _, err := e.CreateJob("job-42"); err != nil {
//	    return err
//	}
//	_, err = e.Transition(ctx, "job-42", plotline.StateReady, "analysis skipped", nil)
package plotline

import (
	"github.com/bft-labs/plotline/internal/app"
	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/internal/recovery"
)

// Engine owns the live jobs, their journals, guards, hooks and broadcasts.
type Engine = app.Engine

// Config holds the engine settings. JobsDir is required.
type Config = app.Config

// Option configures an Engine.
type Option = app.Option

// Plugin extends an Engine with background work bound to its lifecycle.
type Plugin = app.Plugin

// PluginConfig is handed to plugins on Initialize.
type PluginConfig = app.PluginConfig

// JobState is a lifecycle state of a plotting job.
type JobState = domain.JobState

// Phase is where the engine itself is: recovering, serving or draining.
type Phase = app.Phase

// PhaseChange is emitted on every engine phase move.
type PhaseChange = app.PhaseChange

// Metadata is free-form data attached to a transition.
type Metadata = domain.Metadata

// Transition is one committed state change.
type Transition = domain.Transition

// Status summarizes one job as read from its journal.
type Status = recovery.Status

// RecoveryReport is the outcome of crash recovery on Start.
type RecoveryReport = recovery.Report

// GuardResult is the verdict of one guard.
type GuardResult = guard.Result

// Job states.
const (
	StateNew       = domain.StateNew
	StateQueued    = domain.StateQueued
	StateAnalyzed  = domain.StateAnalyzed
	StateOptimized = domain.StateOptimized
	StateReady     = domain.StateReady
	StateArmed     = domain.StateArmed
	StatePlotting  = domain.StatePlotting
	StatePaused    = domain.StatePaused
	StateCompleted = domain.StateCompleted
	StateAborted   = domain.StateAborted
	StateFailed    = domain.StateFailed
)

// Sentinel errors callers can match with errors.Is.
var (
	ErrInvalidTransition = domain.ErrInvalidTransition
	ErrGuardBlocked      = domain.ErrGuardBlocked
	ErrJobNotFound       = domain.ErrJobNotFound
	ErrJobExists         = domain.ErrJobExists
	ErrNotRunning        = domain.ErrNotRunning
	ErrInvalidJobID      = journal.ErrInvalidJobID
)

// Engine options.
var (
	WithLogger            = app.WithLogger
	WithGuardRegistry     = app.WithGuardRegistry
	WithGuardDependencies = app.WithGuardDependencies
	WithStatistics        = app.WithStatistics
	WithPlugin            = app.WithPlugin
	WithMetrics           = app.WithMetrics
	WithHookRunner        = app.WithHookRunner
	WithPhaseListener     = app.WithPhaseListener
	WithSynchronousHooks  = app.WithSynchronousHooks
	WithJournalOptions    = app.WithJournalOptions
)

// New creates an Engine. Call Start before submitting jobs.
func New(cfg Config, opts ...Option) (*Engine, error) {
	return app.New(cfg, opts...)
}

// ParseState parses a state name, case-insensitively.
func ParseState(s string) (JobState, error) {
	return domain.ParseState(s)
}
