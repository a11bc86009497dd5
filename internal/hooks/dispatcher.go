package hooks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bft-labs/plotline/internal/broadcast"
	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/ports"
	"github.com/bft-labs/plotline/pkg/log"
)

// Result is the outcome of one hook run.
type Result struct {
	Hook     string
	Command  string
	Success  bool
	ExitCode int
	Output   string
	Duration time.Duration
	Err      error
}

// Dispatcher runs hooks for entered states and fans transitions out to
// broadcast and statistics.
type Dispatcher struct {
	mu    sync.RWMutex
	table *Table

	runner         Runner
	broadcaster    ports.Broadcaster
	stats          ports.StatisticsService
	logger         log.Logger
	channel        string
	defaultTimeout time.Duration
	observer       func(Result)
	synchronous    bool

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTable sets the initial hook table.
func WithTable(t *Table) Option {
	return func(d *Dispatcher) {
		if t != nil {
			d.table = t
		}
	}
}

// WithRunner replaces the command runner.
func WithRunner(r Runner) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.runner = r
		}
	}
}

// WithBroadcaster sets where job_state_change messages are published.
func WithBroadcaster(b ports.Broadcaster) Option {
	return func(d *Dispatcher) { d.broadcaster = b }
}

// WithStatistics sets the statistics sink.
func WithStatistics(s ports.StatisticsService) Option {
	return func(d *Dispatcher) { d.stats = s }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l log.Logger) Option {
	return func(d *Dispatcher) { d.logger = log.OrNoop(l) }
}

// WithChannel overrides the broadcast channel (default "jobs").
func WithChannel(ch string) Option {
	return func(d *Dispatcher) {
		if ch != "" {
			d.channel = ch
		}
	}
}

// WithDefaultTimeout sets the fallback per-hook timeout.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.defaultTimeout = t
		}
	}
}

// WithObserver is called with every hook result.
func WithObserver(fn func(Result)) Option {
	return func(d *Dispatcher) { d.observer = fn }
}

// WithSynchronous makes OnTransition run inline. Useful for CLI one-shots and tests.
func WithSynchronous(sync bool) Option {
	return func(d *Dispatcher) { d.synchronous = sync }
}

// NewDispatcher creates a dispatcher with an empty table.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		table:          EmptyTable(),
		runner:         ExecRunner{},
		logger:         log.NewNoopLogger(),
		channel:        broadcast.ChannelJobs,
		defaultTimeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetTable swaps the hook table. Runs already in flight keep the old one.
func (d *Dispatcher) SetTable(t *Table) {
	if t == nil {
		t = EmptyTable()
	}
	d.mu.Lock()
	d.table = t
	d.mu.Unlock()
	d.logger.Info("hook table loaded", log.Int("hooks", t.Len()))
}

// Table returns the current hook table.
func (d *Dispatcher) Table() *Table {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.table
}

// OnTransition implements fsm.Notifier. The work runs on its own goroutine
// unless the dispatcher is synchronous; use Wait to drain it.
func (d *Dispatcher) OnTransition(ctx context.Context, jobID string, tr domain.Transition) {
	ctx = context.WithoutCancel(ctx)
	if d.synchronous {
		d.dispatch(ctx, jobID, tr)
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatch(ctx, jobID, tr)
	}()
}

// Wait blocks until every in-flight dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// WaitTimeout waits up to timeout and reports whether all dispatches finished.
func (d *Dispatcher) WaitTimeout(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, jobID string, tr domain.Transition) {
	if d.broadcaster != nil {
		n := d.broadcaster.Broadcast(d.channel, broadcast.NewJobStateChange(jobID, tr))
		d.logger.Debug("transition broadcast",
			log.String("job_id", jobID),
			log.String("to", string(tr.To)),
			log.Int("receivers", n),
		)
	}

	table := d.Table()
	hooks := table.For(tr.To)
	results := d.execute(ctx, hooks, Context{
		JobID:     jobID,
		FromState: string(tr.From),
		ToState:   string(tr.To),
		Reason:    tr.Reason,
	}, table.DefaultTimeout())

	if d.stats != nil {
		md := tr.Metadata.Map()
		md["from_state"] = string(tr.From)
		md["to_state"] = string(tr.To)
		md["reason"] = tr.Reason
		md["hooks_run"] = len(results)
		md["hooks_failed"] = countFailed(results)
		if err := d.stats.RecordJobEvent(ctx, jobID, "state_change", md); err != nil {
			d.logger.Warn("statistics record failed",
				log.String("job_id", jobID),
				log.Err(err),
			)
		}
	}
}

// Execute runs hooks in order with placeholders taken from hc.
func (d *Dispatcher) Execute(ctx context.Context, hooks []Hook, hc Context) []Result {
	return d.execute(ctx, hooks, hc, 0)
}

func (d *Dispatcher) execute(ctx context.Context, hooks []Hook, hc Context, fileDefault time.Duration) []Result {
	if len(hooks) == 0 {
		return nil
	}
	results := make([]Result, 0, len(hooks))
	for _, h := range hooks {
		timeout := h.Timeout
		if timeout <= 0 {
			timeout = fileDefault
		}
		if timeout <= 0 {
			timeout = d.defaultTimeout
		}
		res := d.runOne(ctx, h, hc, timeout)
		results = append(results, res)
		if d.observer != nil {
			d.observer(res)
		}
	}
	return results
}

func (d *Dispatcher) runOne(ctx context.Context, h Hook, hc Context, timeout time.Duration) (res Result) {
	argv := hc.Expand(h.Command)
	res = Result{Hook: h.Name, Command: strings.Join(argv, " "), ExitCode: -1}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			res.Success = false
			res.Err = fmt.Errorf("hook panicked: %v", p)
		}
		res.Duration = time.Since(start)
		fields := []log.Field{
			log.String("job_id", hc.JobID),
			log.String("hook", h.Name),
			log.String("to", hc.ToState),
			log.Int("exit_code", res.ExitCode),
			log.Duration("duration", res.Duration),
		}
		if res.Success {
			d.logger.Info("hook succeeded", fields...)
		} else {
			d.logger.Error("hook failed", append(fields, log.Err(res.Err), log.String("output", res.Output))...)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, code, err := d.runner.Run(cctx, argv)
	res.ExitCode = code
	res.Output = truncate(out)
	res.Err = err
	res.Success = err == nil && code == 0
	return res
}

func countFailed(rs []Result) int {
	n := 0
	for _, r := range rs {
		if !r.Success {
			n++
		}
	}
	return n
}
