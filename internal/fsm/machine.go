package fsm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/pkg/log"
)

// Outcome describes an accepted transition.
type Outcome struct {
	Transition domain.Transition
	Guards     []guard.Result
}

// Warnings returns the SOFT_FAIL results that did not block the transition.
func (o Outcome) Warnings() []guard.Result {
	return guard.Warnings(o.Guards)
}

// Machine is the state machine of a single job.
type Machine struct {
	jobID string
	cfg   config

	mu        sync.RWMutex
	state     domain.JobState
	history   []domain.Transition
	createdAt time.Time
	updatedAt time.Time
	sealed    bool
}

// New returns a machine for jobID in state NEW.
func New(jobID string, opts ...Option) *Machine {
	cfg := newConfig(opts)
	now := cfg.now().UTC()
	return &Machine{
		jobID:     jobID,
		cfg:       cfg,
		state:     domain.StateNew,
		createdAt: now,
		updatedAt: now,
	}
}

// Restore rebuilds a machine from a recorded history. Every step must follow
// the table and start where the previous one ended.
func Restore(jobID string, history []domain.Transition, opts ...Option) (*Machine, error) {
	m := New(jobID, opts...)
	if len(history) == 0 {
		return m, nil
	}
	state := history[0].From
	if !state.Valid() {
		return nil, fmt.Errorf("job %s: unknown initial state %q", jobID, state)
	}
	for i, tr := range history {
		if tr.From != state {
			return nil, fmt.Errorf("job %s: entry %d starts at %s, expected %s", jobID, i+1, tr.From, state)
		}
		if !domain.CanTransition(tr.From, tr.To) && !(m.cfg.selfTransition && tr.From == tr.To && !tr.From.IsTerminal()) {
			return nil, fmt.Errorf("job %s: entry %d: %w: %s -> %s", jobID, i+1, domain.ErrInvalidTransition, tr.From, tr.To)
		}
		state = tr.To
	}
	m.state = state
	m.history = make([]domain.Transition, len(history))
	copy(m.history, history)
	m.createdAt = history[0].Timestamp
	m.updatedAt = history[len(history)-1].Timestamp
	return m, nil
}

// Seal stops the machine from accepting guarded transitions and returns the
// state it was sealed in. A commit already holding the lock finishes first.
// ForceTransition still works so shutdown can park the job safely.
func (m *Machine) Seal() domain.JobState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
	return m.state
}

// Sealed reports whether Seal has been called.
func (m *Machine) Sealed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sealed
}

// JobID returns the job id.
func (m *Machine) JobID() string {
	return m.jobID
}

// State returns the current state.
func (m *Machine) State() domain.JobState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsTerminal reports whether the job can no longer move.
func (m *Machine) IsTerminal() bool {
	return m.State().IsTerminal()
}

// CreatedAt returns when the machine (or its first recorded transition) was created.
func (m *Machine) CreatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.createdAt
}

// UpdatedAt returns the time of the last accepted transition.
func (m *Machine) UpdatedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updatedAt
}

// History returns a copy of the recorded transitions in order.
func (m *Machine) History() []domain.Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Transition, len(m.history))
	copy(out, m.history)
	return out
}

// Len returns the number of recorded transitions.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// LastTransition returns the most recent transition, if any.
func (m *Machine) LastTransition() (domain.Transition, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return domain.Transition{}, false
	}
	return m.history[len(m.history)-1], true
}

// CanTransition reports whether to is reachable from the current state.
// Guards are not consulted.
func (m *Machine) CanTransition(to domain.JobState) bool {
	return m.allowed(m.State(), to)
}

// CanPause reports whether the job is plotting and may pause.
func (m *Machine) CanPause() bool {
	return m.State() == domain.StatePlotting && m.CanTransition(domain.StatePaused)
}

// CanResume reports whether the job is paused and may resume plotting.
func (m *Machine) CanResume() bool {
	return m.State() == domain.StatePaused && m.CanTransition(domain.StatePlotting)
}

func (m *Machine) allowed(from, to domain.JobState) bool {
	if from == to {
		return m.cfg.selfTransition && !from.IsTerminal() && from.Valid()
	}
	return domain.CanTransition(from, to)
}

func (m *Machine) invalid(from, to domain.JobState) error {
	if m.cfg.observer != nil {
		m.cfg.observer.TransitionRejected(RejectInvalid)
	}
	if from.IsTerminal() {
		return fmt.Errorf("job %s: %w: %s -> %s (%w)", m.jobID, domain.ErrInvalidTransition, from, to, domain.ErrTerminalState)
	}
	return fmt.Errorf("job %s: %w: %s -> %s", m.jobID, domain.ErrInvalidTransition, from, to)
}

func (m *Machine) canceled(from, to domain.JobState, err error) error {
	if m.cfg.observer != nil {
		m.cfg.observer.TransitionRejected(RejectCanceled)
	}
	return fmt.Errorf("job %s: %s -> %s abandoned: %w", m.jobID, from, to, err)
}

func (m *Machine) shutdown(from, to domain.JobState) error {
	if m.cfg.observer != nil {
		m.cfg.observer.TransitionRejected(RejectShutdown)
	}
	return fmt.Errorf("job %s: %s -> %s: %w", m.jobID, from, to, domain.ErrShutdown)
}

// Transition moves the job to to when the edge exists and no applicable
// guard fails. The journal is written before the new state becomes visible.
func (m *Machine) Transition(ctx context.Context, to domain.JobState, reason string, md domain.Metadata) (Outcome, error) {
	from := m.State()
	if !m.allowed(from, to) {
		return Outcome{}, m.invalid(from, to)
	}
	if m.Sealed() {
		return Outcome{}, m.shutdown(from, to)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, m.canceled(from, to, err)
	}

	var results []guard.Result
	if m.cfg.guards != nil {
		var ok bool
		ok, results = m.cfg.guards.EvaluateEdge(ctx, m.jobID, from, to)
		if err := ctx.Err(); err != nil {
			return Outcome{}, m.canceled(from, to, err)
		}
		if !ok {
			if m.cfg.observer != nil {
				m.cfg.observer.TransitionRejected(RejectGuard)
			}
			err := &GuardBlockedError{JobID: m.jobID, From: from, To: to, Results: results}
			m.cfg.logger.Warn("transition blocked",
				log.String("job_id", m.jobID),
				log.String("from", string(from)),
				log.String("to", string(to)),
				log.Int("failed_guards", len(guard.Blocking(results))),
			)
			return Outcome{}, err
		}
		for _, w := range guard.Warnings(results) {
			m.cfg.logger.Warn("guard warning",
				log.String("job_id", m.jobID),
				log.String("to", string(to)),
				log.String("guard", w.Guard),
				log.String("message", w.Message),
			)
		}
	}

	if err := ctx.Err(); err != nil {
		return Outcome{}, m.canceled(from, to, err)
	}
	tr, err := m.commit(from, to, reason, md, false)
	if err != nil {
		return Outcome{}, err
	}
	m.notify(ctx, tr)
	return Outcome{Transition: tr, Guards: results}, nil
}

// ForceTransition applies an edge without consulting guards. It is used by
// crash recovery and shutdown; the table is still enforced and a sealed
// machine accepts it.
func (m *Machine) ForceTransition(ctx context.Context, to domain.JobState, reason string, md domain.Metadata) (domain.Transition, error) {
	from := m.State()
	if !m.allowed(from, to) {
		return domain.Transition{}, m.invalid(from, to)
	}
	tr, err := m.commit(from, to, reason, md, true)
	if err != nil {
		return domain.Transition{}, err
	}
	m.notify(ctx, tr)
	return tr, nil
}

// commit journals then applies from->to. It fails if the state moved since
// the caller read it, or if the machine was sealed and the edge is not forced.
func (m *Machine) commit(from, to domain.JobState, reason string, md domain.Metadata, force bool) (domain.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed && !force {
		return domain.Transition{}, m.shutdown(from, to)
	}

	if m.state != from {
		return domain.Transition{}, fmt.Errorf("job %s: %w: state changed to %s while moving %s -> %s",
			m.jobID, domain.ErrInvalidTransition, m.state, from, to)
	}

	at := m.cfg.now().UTC()
	if at.Before(m.updatedAt) {
		at = m.updatedAt
	}
	tr := domain.NewTransition(from, to, at, reason, md)

	if m.cfg.journal != nil {
		if err := m.cfg.journal.Append(m.jobID, journal.FromTransition(tr)); err != nil {
			if m.cfg.observer != nil {
				m.cfg.observer.TransitionRejected(RejectJournal)
			}
			m.cfg.logger.Error("journal append failed",
				log.String("job_id", m.jobID),
				log.String("from", string(from)),
				log.String("to", string(to)),
				log.Err(err),
			)
			return domain.Transition{}, fmt.Errorf("job %s: journal: %w", m.jobID, err)
		}
	}

	m.state = to
	m.history = append(m.history, tr)
	m.updatedAt = at
	if len(m.history) == 1 && at.Before(m.createdAt) {
		m.createdAt = at
	}

	m.cfg.logger.Info("state transition",
		log.String("job_id", m.jobID),
		log.String("from", string(from)),
		log.String("to", string(to)),
		log.String("reason", reason),
	)
	if m.cfg.observer != nil {
		m.cfg.observer.TransitionCommitted(from, to)
	}
	return tr, nil
}

func (m *Machine) notify(ctx context.Context, tr domain.Transition) {
	if m.cfg.notifier == nil {
		return
	}
	m.cfg.notifier.OnTransition(ctx, m.jobID, tr)
}
