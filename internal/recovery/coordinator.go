package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/fsm"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/pkg/log"
)

// Reasons and metadata keys written by recovery and shutdown.
const (
	ReasonExit         = "process_exit"
	ReasonSignal       = "signal_received"
	crashReasonPrefix  = "crash_recovery: emergency shutdown while "
	abortReasonPrefix  = "emergency_shutdown: "
	metaRecovered      = "recovered"
	metaShutdownReason = "shutdown_reason"
)

// Coordinator tracks live machines and replays journals.
type Coordinator struct {
	store       *journal.Store
	machineOpts []fsm.Option
	logger      log.Logger
	now         func() time.Time
	onShutdown  func(jobID string)

	mu       sync.Mutex
	live     map[string]*fsm.Machine
	shutdown bool
	once     sync.Once
	aborted  []string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMachineOptions are applied to every machine the coordinator builds.
// The coordinator always adds its own journal.
func WithMachineOptions(opts ...fsm.Option) Option {
	return func(c *Coordinator) { c.machineOpts = append(c.machineOpts, opts...) }
}

// WithLogger sets the coordinator logger.
func WithLogger(l log.Logger) Option {
	return func(c *Coordinator) { c.logger = log.OrNoop(l) }
}

// WithClock overrides time.Now for emergency markers.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// WithShutdownObserver is called for every job aborted by ShutdownAll.
func WithShutdownObserver(fn func(jobID string)) Option {
	return func(c *Coordinator) { c.onShutdown = fn }
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store *journal.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		logger: log.NewNoopLogger(),
		now:    time.Now,
		live:   make(map[string]*fsm.Machine),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the journal store.
func (c *Coordinator) Store() *journal.Store {
	return c.store
}

// MachineOptions returns the options used for new machines, journal included.
func (c *Coordinator) MachineOptions() []fsm.Option {
	opts := make([]fsm.Option, 0, len(c.machineOpts)+1)
	opts = append(opts, fsm.WithJournal(c.store))
	opts = append(opts, c.machineOpts...)
	return opts
}

// NewMachine builds a NEW machine wired like recovered ones. It is not registered.
func (c *Coordinator) NewMachine(jobID string) *fsm.Machine {
	return fsm.New(jobID, c.MachineOptions()...)
}

// Register makes m the live instance for its job.
func (c *Coordinator) Register(m *fsm.Machine) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shutdown {
		return domain.ErrShutdown
	}
	if _, ok := c.live[m.JobID()]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, m.JobID())
	}
	c.live[m.JobID()] = m
	c.logger.Debug("job registered", log.String("job_id", m.JobID()))
	return nil
}

// Unregister releases jobID's live instance. The journal is untouched.
func (c *Coordinator) Unregister(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.live[jobID]; ok {
		delete(c.live, jobID)
		c.logger.Debug("job unregistered", log.String("job_id", jobID))
	}
}

// Lookup returns the live machine for jobID.
func (c *Coordinator) Lookup(jobID string) (*fsm.Machine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.live[jobID]
	return m, ok
}

// Live lists registered job ids, sorted.
func (c *Coordinator) Live() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.live))
	for id := range c.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LiveCount returns the number of registered machines.
func (c *Coordinator) LiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

// replay is the decoded content of one journal.
type replay struct {
	history      []domain.Transition
	lastShutdown *journal.EmergencyShutdown
	// trailingShutdown is set when the journal ends with a marker.
	trailingShutdown *journal.EmergencyShutdown
	entries          int
}

func (c *Coordinator) load(jobID string) (replay, error) {
	events, err := c.store.ReadAll(jobID)
	if err != nil {
		return replay{}, err
	}
	r := replay{entries: len(events)}
	for i, ev := range events {
		switch e := ev.(type) {
		case journal.StateChange:
			r.history = append(r.history, e.Transition())
		case journal.EmergencyShutdown:
			marker := e
			r.lastShutdown = &marker
			if i == len(events)-1 {
				r.trailingShutdown = &marker
			}
		}
	}
	return r, nil
}

func (r replay) state() domain.JobState {
	if len(r.history) == 0 {
		return domain.StateNew
	}
	return r.history[len(r.history)-1].To
}

// needsRepair reports whether the journal ends with a marker at a state that
// was still moving and must be failed.
func (r replay) needsRepair() bool {
	if r.trailingShutdown == nil {
		return false
	}
	s := r.state()
	return !s.IsTerminal() && s != domain.StatePaused
}

// RecoverJob returns the live machine for jobID, or rebuilds one from the
// journal. A journal that ends with an emergency marker while the job was
// moving gets a synthetic transition to FAILED, persisted before return.
// The rebuilt machine is not registered.
func (c *Coordinator) RecoverJob(ctx context.Context, jobID string) (*fsm.Machine, error) {
	if m, ok := c.Lookup(jobID); ok {
		return m, nil
	}
	r, err := c.load(jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJournalCorrupt) {
			c.logger.Error("journal corrupt, job not recovered", log.String("job_id", jobID), log.Err(err))
		}
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrJobNotFound, jobID, err)
	}
	m, err := fsm.Restore(jobID, r.history, c.MachineOptions()...)
	if err != nil {
		c.logger.Error("journal replay failed", log.String("job_id", jobID), log.Err(err))
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrJobNotFound, jobID, fmt.Errorf("%w: %w", domain.ErrJournalCorrupt, err))
	}

	if r.needsRepair() {
		from := m.State()
		md := domain.Meta(metaRecovered, true, metaShutdownReason, r.trailingShutdown.Reason)
		if _, err := m.ForceTransition(ctx, domain.StateFailed, crashReasonPrefix+string(from), md); err != nil {
			return nil, fmt.Errorf("recover %s: %w", jobID, err)
		}
		c.logger.Warn("job failed by crash recovery",
			log.String("job_id", jobID),
			log.String("from", string(from)),
			log.String("shutdown_reason", r.trailingShutdown.Reason),
		)
	}
	return m, nil
}

// ResumableJobs lists jobs whose last recorded state is not COMPLETED or
// ABORTED. Unreadable journals are skipped.
func (c *Coordinator) ResumableJobs() ([]string, error) {
	ids, err := c.store.JobIDs()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		r, err := c.load(id)
		if err != nil {
			c.logger.Warn("skipping unreadable journal", log.String("job_id", id), log.Err(err))
			continue
		}
		if domain.Resumable(r.state()) {
			out = append(out, id)
		}
	}
	return out, nil
}

// Status summarizes one job.
type Status struct {
	JobID                string                     `json:"job_id"`
	CurrentState         domain.JobState            `json:"current_state"`
	HasEmergencyShutdown bool                       `json:"has_emergency_shutdown"`
	LastShutdown         *journal.EmergencyShutdown `json:"last_shutdown,omitempty"`
	LastTransition       *domain.Transition         `json:"last_transition,omitempty"`
	EntryCount           int                        `json:"entry_count"`
	Resumable            bool                       `json:"resumable"`
	Live                 bool                       `json:"live"`

	// Next lists the states the table allows from CurrentState. Guards may
	// still block them.
	Next []domain.JobState `json:"next_states"`
}

// JobStatus reads jobID's journal and reports its state. A live job that has
// not written a journal yet is reported from memory.
func (c *Coordinator) JobStatus(jobID string) (Status, error) {
	r, err := c.load(jobID)
	live, isLive := c.Lookup(jobID)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) && isLive {
			state := live.State()
			st := Status{JobID: jobID, CurrentState: state, Live: true, Resumable: domain.Resumable(state), Next: domain.Targets(state)}
			if last, ok := live.LastTransition(); ok {
				st.LastTransition = &last
			}
			return st, nil
		}
		return Status{}, fmt.Errorf("%w: %s: %w", domain.ErrJobNotFound, jobID, err)
	}
	st := Status{
		JobID:                jobID,
		CurrentState:         r.state(),
		HasEmergencyShutdown: r.lastShutdown != nil,
		LastShutdown:         r.lastShutdown,
		EntryCount:           r.entries,
		Live:                 isLive,
	}
	if n := len(r.history); n > 0 {
		last := r.history[n-1]
		st.LastTransition = &last
	}
	st.Resumable = domain.Resumable(st.CurrentState)
	st.Next = domain.Targets(st.CurrentState)
	return st, nil
}

// Report is the outcome of RecoverAll.
type Report struct {
	Recovered []string          `json:"recovered"`
	Repaired  []string          `json:"repaired"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// RecoverAll replays every resumable journal, repairs interrupted jobs and
// registers those still in a non-terminal state.
func (c *Coordinator) RecoverAll(ctx context.Context) (Report, error) {
	rep := Report{Failed: map[string]string{}}
	ids, err := c.ResumableJobs()
	if err != nil {
		return rep, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if _, ok := c.Lookup(id); ok {
			continue
		}
		before, _ := c.load(id)
		m, err := c.RecoverJob(ctx, id)
		if err != nil {
			rep.Failed[id] = err.Error()
			continue
		}
		if before.needsRepair() {
			rep.Repaired = append(rep.Repaired, id)
		}
		if !m.IsTerminal() {
			if err := c.Register(m); err != nil {
				rep.Failed[id] = err.Error()
				continue
			}
			rep.Recovered = append(rep.Recovered, id)
		}
	}
	c.logger.Info("recovery complete",
		log.Int("recovered", len(rep.Recovered)),
		log.Int("repaired", len(rep.Repaired)),
		log.Int("failed", len(rep.Failed)),
	)
	return rep, nil
}

// ShutdownAll seals every live machine, writes an emergency marker for and
// force-aborts the ones that are PLOTTING, then clears the registry. Jobs in
// other states are left as they are and can no longer commit guarded
// transitions. Only the first call does any work; later calls return the
// same ids.
func (c *Coordinator) ShutdownAll(reason string) []string {
	c.once.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.shutdown = true

		ids := make([]string, 0, len(c.live))
		for id := range c.live {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			m := c.live[id]
			state := m.Seal()
			if state != domain.StatePlotting {
				continue
			}
			marker := journal.EmergencyShutdown{State: state, Timestamp: c.now().UTC(), Reason: reason}
			if err := c.store.Append(id, marker); err != nil {
				c.logger.Error("emergency marker write failed", log.String("job_id", id), log.Err(err))
			}
			if _, err := m.ForceTransition(context.Background(), domain.StateAborted, abortReasonPrefix+reason, nil); err != nil {
				c.logger.Error("emergency abort failed", log.String("job_id", id), log.Err(err))
				continue
			}
			c.aborted = append(c.aborted, id)
			if c.onShutdown != nil {
				c.onShutdown(id)
			}
			c.logger.Warn("job aborted by shutdown",
				log.String("job_id", id),
				log.String("reason", reason),
			)
		}
		c.live = make(map[string]*fsm.Machine)
		c.logger.Info("shutdown complete", log.String("reason", reason), log.Int("aborted", len(c.aborted)))
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.aborted))
	copy(out, c.aborted)
	return out
}

// IsShutdown reports whether ShutdownAll has run.
func (c *Coordinator) IsShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}
