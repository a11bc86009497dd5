package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/pkg/log"
)

// DefaultTimeout bounds a single guard check.
const DefaultTimeout = 5 * time.Second

// ErrDuplicateGuard is returned when two guards share a name.
var ErrDuplicateGuard = errors.New("guard: duplicate name")

type entry struct {
	guard   Guard
	targets map[domain.JobState]struct{}
	strict  bool
	timeout time.Duration
}

// RegisterOption configures a single registration.
type RegisterOption func(*entry)

// Strict makes timeouts and errors of this guard blocking.
func Strict() RegisterOption {
	return func(e *entry) { e.strict = true }
}

// WithGuardTimeout overrides the registry timeout for this guard.
func WithGuardTimeout(d time.Duration) RegisterOption {
	return func(e *entry) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// Registry holds guards keyed by name and tagged with target states.
type Registry struct {
	mu       sync.RWMutex
	entries  []*entry
	names    map[string]struct{}
	timeout  time.Duration
	logger   log.Logger
	observer func(Result)
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the default per-guard timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(l log.Logger) Option {
	return func(r *Registry) { r.logger = log.OrNoop(l) }
}

// WithObserver is called with every result Evaluate produces.
func WithObserver(fn func(Result)) Option {
	return func(r *Registry) { r.observer = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		names:   make(map[string]struct{}),
		timeout: DefaultTimeout,
		logger:  log.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds g for the given target states.
func (r *Registry) Register(g Guard, targets []domain.JobState, opts ...RegisterOption) error {
	if g == nil {
		return fmt.Errorf("guard: nil guard")
	}
	name := g.Name()
	if name == "" {
		return fmt.Errorf("guard: empty name")
	}
	if len(targets) == 0 {
		return fmt.Errorf("guard %s: no target states", name)
	}
	e := &entry{guard: g, targets: make(map[domain.JobState]struct{}, len(targets))}
	for _, t := range targets {
		if !t.Valid() {
			return fmt.Errorf("guard %s: unknown target state %q", name, t)
		}
		e.targets[t] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateGuard, name)
	}
	r.names[name] = struct{}{}
	r.entries = append(r.entries, e)
	return nil
}

// MustRegister is Register that panics on error. Intended for static wiring.
func (r *Registry) MustRegister(g Guard, targets []domain.JobState, opts ...RegisterOption) {
	if err := r.Register(g, targets, opts...); err != nil {
		panic(err)
	}
}

// Names lists registered guards in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.guard.Name())
	}
	return out
}

// For lists the guards that apply before entering target.
func (r *Registry) For(target domain.JobState) []string {
	var out []string
	for _, e := range r.applicable(target) {
		out = append(out, e.guard.Name())
	}
	return out
}

func (r *Registry) applicable(targets ...domain.JobState) []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*entry
	for _, e := range r.entries {
		for _, t := range targets {
			if _, ok := e.targets[t]; ok {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Evaluate runs every guard registered for target and reports whether the
// transition may proceed. Results are in registration order.
func (r *Registry) Evaluate(ctx context.Context, jobID string, target domain.JobState) (bool, []Result) {
	return r.evaluate(ctx, jobID, r.applicable(target))
}

// EvaluateEdge is Evaluate for the edge from->to. Guards of any state the
// edge skips over run as well, so READY->PLOTTING answers to the ARMED guards.
func (r *Registry) EvaluateEdge(ctx context.Context, jobID string, from, to domain.JobState) (bool, []Result) {
	targets := append([]domain.JobState{to}, domain.Bypassed(from, to)...)
	return r.evaluate(ctx, jobID, r.applicable(targets...))
}

func (r *Registry) evaluate(ctx context.Context, jobID string, entries []*entry) (bool, []Result) {
	if len(entries) == 0 {
		return true, nil
	}

	results := make([]Result, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			results[i] = r.run(ctx, jobID, e)
			return nil
		})
	}
	_ = g.Wait()

	allowed := true
	for _, res := range results {
		if res.Status == StatusFail {
			allowed = false
		}
		if r.observer != nil {
			r.observer(res)
		}
	}
	return allowed, results
}

type checkOutcome struct {
	res Result
	err error
}

// run executes one guard and normalizes its outcome. It never blocks past the timeout.
func (r *Registry) run(ctx context.Context, jobID string, e *entry) Result {
	name := e.guard.Name()
	timeout := e.timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan checkOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- checkOutcome{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := e.guard.Check(cctx, jobID)
		done <- checkOutcome{res: res, err: err}
	}()

	var out checkOutcome
	select {
	case out = <-done:
	case <-cctx.Done():
		select {
		case out = <-done:
		default:
			if err := ctx.Err(); err != nil {
				return canceled(name, err)
			}
			r.logger.Warn("guard timed out",
				log.String("job_id", jobID),
				log.String("guard", name),
				log.Duration("timeout", timeout),
			)
			return r.degrade(e, fmt.Sprintf("check did not finish within %s", timeout)).With("timeout", timeout.String())
		}
	}

	if out.err != nil {
		if err := ctx.Err(); err != nil {
			return canceled(name, err)
		}
		r.logger.Warn("guard error",
			log.String("job_id", jobID),
			log.String("guard", name),
			log.Err(out.err),
		)
		return r.degrade(e, out.err.Error())
	}

	res := out.res
	res.Guard = name
	switch res.Status {
	case StatusPass, StatusFail, StatusSoftFail:
	default:
		return r.degrade(e, fmt.Sprintf("invalid status %q", res.Status))
	}
	return res
}

// canceled always blocks, strict or not.
func canceled(name string, err error) Result {
	return Fail(name, "evaluation canceled: "+err.Error())
}

func (r *Registry) degrade(e *entry, msg string) Result {
	if e.strict {
		return Fail(e.guard.Name(), msg)
	}
	return SoftFail(e.guard.Name(), msg)
}
