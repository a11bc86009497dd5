package fsm

import (
	"context"
	"time"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/pkg/log"
)

// Evaluator decides whether guards allow the edge from->to.
// *guard.Registry satisfies this interface.
type Evaluator interface {
	EvaluateEdge(ctx context.Context, jobID string, from, to domain.JobState) (bool, []guard.Result)
}

// Journal persists accepted transitions. *journal.Store satisfies this interface.
type Journal interface {
	Append(jobID string, e journal.Event) error
}

// Notifier is told about every committed transition.
// It is called after the machine lock is released.
type Notifier interface {
	OnTransition(ctx context.Context, jobID string, tr domain.Transition)
}

// Observer receives counters-style callbacks for committed and rejected transitions.
type Observer interface {
	TransitionCommitted(from, to domain.JobState)
	TransitionRejected(reason string)
}

// Rejection reasons passed to Observer.TransitionRejected.
const (
	RejectInvalid  = "invalid_transition"
	RejectGuard    = "guard_blocked"
	RejectJournal  = "journal_error"
	RejectCanceled = "canceled"
	RejectShutdown = "shutdown"
)

type config struct {
	guards         Evaluator
	journal        Journal
	notifier       Notifier
	observer       Observer
	logger         log.Logger
	now            func() time.Time
	selfTransition bool
}

// Option configures a Machine.
type Option func(*config)

// WithGuards sets the guard evaluator.
func WithGuards(e Evaluator) Option {
	return func(c *config) { c.guards = e }
}

// WithJournal sets the journal every accepted transition is appended to.
func WithJournal(j Journal) Option {
	return func(c *config) { c.journal = j }
}

// WithNotifier sets the post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(c *config) { c.notifier = n }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(c *config) { c.observer = o }
}

// WithLogger sets the machine logger.
func WithLogger(l log.Logger) Option {
	return func(c *config) { c.logger = log.OrNoop(l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSelfTransitions lets a job "move" to the state it is already in.
// The edge must still not start from a terminal state.
func WithSelfTransitions(allow bool) Option {
	return func(c *config) { c.selfTransition = allow }
}

func newConfig(opts []Option) config {
	c := config{
		logger: log.NewNoopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
