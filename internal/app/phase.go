package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/pkg/log"
)

// Phase is where the engine is in its single run: replaying journals,
// serving job operations, or draining after the emergency shutdown.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRecovering Phase = "recovering"
	PhaseServing    Phase = "serving"
	PhaseDraining   Phase = "draining"
	PhaseStopped    Phase = "stopped"
	PhaseCrashed    Phase = "crashed"
)

// phaseEdges is the engine's own edge table. A crash during recovery may be
// retried; a drained engine never serves again.
var phaseEdges = map[Phase][]Phase{
	PhaseIdle:       {PhaseRecovering},
	PhaseRecovering: {PhaseServing, PhaseCrashed},
	PhaseServing:    {PhaseDraining},
	PhaseDraining:   {PhaseStopped, PhaseCrashed},
	PhaseCrashed:    {PhaseRecovering},
}

func (p Phase) String() string { return string(p) }

// accepting reports whether job operations are allowed in p.
func (p Phase) accepting() bool { return p == PhaseServing }

// TypeEnginePhase is the broadcast message type of a PhaseChange.
const TypeEnginePhase = "engine_phase"

// PhaseChange is emitted on every engine phase move. Entering serving
// carries the recovery outcome; entering draining carries the jobs the
// emergency shutdown aborted.
type PhaseChange struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Reason    string    `json:"reason"`

	Recovered int      `json:"recovered,omitempty"`
	Repaired  []string `json:"repaired,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	Aborted   []string `json:"aborted,omitempty"`
}

// PhaseListener is told about engine phase changes.
type PhaseListener interface {
	OnPhaseChange(PhaseChange)
}

// PhaseListenerFunc adapts a function to PhaseListener.
type PhaseListenerFunc func(PhaseChange)

func (f PhaseListenerFunc) OnPhaseChange(c PhaseChange) { f(c) }

type phaseTracker struct {
	mu        sync.RWMutex
	current   Phase
	logger    log.Logger
	listeners []PhaseListener
}

func newPhaseTracker(logger log.Logger, listeners ...PhaseListener) *phaseTracker {
	t := &phaseTracker{current: PhaseIdle, logger: log.OrNoop(logger)}
	for _, l := range listeners {
		if l != nil {
			t.listeners = append(t.listeners, l)
		}
	}
	return t
}

func (t *phaseTracker) get() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// advance moves to c.To and tells the listeners outside the lock.
func (t *phaseTracker) advance(c PhaseChange) error {
	t.mu.Lock()
	from := t.current
	if !canAdvance(from, c.To) {
		t.mu.Unlock()
		return fmt.Errorf("%w: engine %s -> %s", phaseError(from), from, c.To)
	}
	t.current = c.To
	t.mu.Unlock()

	c.Type = TypeEnginePhase
	c.From = from
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	t.logger.Info("engine phase",
		log.String("from", from.String()),
		log.String("to", c.To.String()),
		log.String("reason", c.Reason),
	)
	for _, l := range t.listeners {
		l.OnPhaseChange(c)
	}
	return nil
}

func canAdvance(from, to Phase) bool {
	for _, p := range phaseEdges[from] {
		if p == to {
			return true
		}
	}
	return false
}

func phaseError(from Phase) error {
	switch from {
	case PhaseIdle, PhaseCrashed:
		return domain.ErrNotRunning
	case PhaseStopped:
		return domain.ErrShutdown
	default:
		return domain.ErrAlreadyRunning
	}
}
