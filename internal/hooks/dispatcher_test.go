package hooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/plotline/internal/broadcast"
	"github.com/bft-labs/plotline/internal/domain"
)

type call struct {
	argv     []string
	deadline time.Duration
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	panic string
}

func (f *fakeRunner) Run(ctx context.Context, argv []string) ([]byte, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var d time.Duration
	if dl, ok := ctx.Deadline(); ok {
		d = time.Until(dl)
	}
	f.calls = append(f.calls, call{argv: argv, deadline: d})
	if argv[0] == f.panic {
		panic("runner exploded")
	}
	if err, ok := f.fail[argv[0]]; ok {
		return []byte("oops"), 1, err
	}
	return []byte("ok\n"), 0, nil
}

type fakeBroadcaster struct {
	mu   sync.Mutex
	msgs []any
	chs  []string
}

func (f *fakeBroadcaster) Broadcast(ch string, msg any) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chs = append(f.chs, ch)
	f.msgs = append(f.msgs, msg)
	return 1
}

type fakeStats struct {
	mu     sync.Mutex
	events []map[string]any
	err    error
}

func (f *fakeStats) RecordJobEvent(_ context.Context, jobID, eventType string, md map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	md["_job"] = jobID
	md["_type"] = eventType
	f.events = append(f.events, md)
	return f.err
}

func plottingTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := Parse([]byte(`
[[state.PLOTTING]]
name = "first"
command = "first {job_id}"
[[state.PLOTTING]]
name = "second"
command = "second {from_state} {to_state}"
timeout = "3s"
[[state.PLOTTING]]
name = "third"
command = "third {reason}"
`))
	require.NoError(t, err)
	return tbl
}

var tr = domain.NewTransition(domain.StateReady, domain.StatePlotting,
	time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC), "go", domain.Meta("layer", "outline"))

func TestExecute_FailureIsIsolated(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"second": errors.New("exit status 1")}}
	d := NewDispatcher(WithRunner(runner))

	results := d.Execute(context.Background(), plottingTable(t).For(domain.StatePlotting),
		Context{JobID: "job-1", FromState: "READY", ToState: "PLOTTING", Reason: "go"})

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.Equal(t, "first job-1", results[0].Command)
	assert.False(t, results[1].Success)
	assert.Equal(t, 1, results[1].ExitCode)
	assert.Equal(t, "oops", results[1].Output)
	assert.Error(t, results[1].Err)
	assert.True(t, results[2].Success)
	assert.Len(t, runner.calls, 3)
}

func TestExecute_PanicIsIsolated(t *testing.T) {
	runner := &fakeRunner{panic: "first"}
	d := NewDispatcher(WithRunner(runner))

	results := d.Execute(context.Background(), plottingTable(t).For(domain.StatePlotting), Context{JobID: "job-1"})
	require.Len(t, results, 3)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Err.Error(), "runner exploded")
	assert.True(t, results[1].Success)
}

func TestExecute_Timeouts(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(WithRunner(runner), WithDefaultTimeout(time.Minute))
	d.Execute(context.Background(), plottingTable(t).For(domain.StatePlotting), Context{})

	require.Len(t, runner.calls, 3)
	assert.InDelta(t, time.Minute.Seconds(), runner.calls[0].deadline.Seconds(), 1)
	assert.InDelta(t, 3, runner.calls[1].deadline.Seconds(), 1)
}

func TestOnTransition_BroadcastHooksStats(t *testing.T) {
	runner := &fakeRunner{}
	b := &fakeBroadcaster{}
	stats := &fakeStats{}
	var observed []Result
	var mu sync.Mutex
	d := NewDispatcher(
		WithTable(plottingTable(t)),
		WithRunner(runner),
		WithBroadcaster(b),
		WithStatistics(stats),
		WithObserver(func(r Result) {
			mu.Lock()
			observed = append(observed, r)
			mu.Unlock()
		}),
	)

	d.OnTransition(context.Background(), "job-1", tr)
	d.Wait()

	require.Len(t, b.msgs, 1)
	assert.Equal(t, broadcast.ChannelJobs, b.chs[0])
	msg, ok := b.msgs[0].(broadcast.JobStateChange)
	require.True(t, ok)
	assert.Equal(t, broadcast.TypeJobStateChange, msg.Type)
	assert.Equal(t, "job-1", msg.JobID)
	assert.Equal(t, domain.StateReady, msg.FromState)
	assert.Equal(t, domain.StatePlotting, msg.ToState)

	assert.Len(t, runner.calls, 3)
	assert.Equal(t, []string{"second", "READY", "PLOTTING"}, runner.calls[1].argv)
	assert.Len(t, observed, 3)

	require.Len(t, stats.events, 1)
	ev := stats.events[0]
	assert.Equal(t, "job-1", ev["_job"])
	assert.Equal(t, "state_change", ev["_type"])
	assert.Equal(t, "PLOTTING", ev["to_state"])
	assert.Equal(t, "outline", ev["layer"])
	assert.Equal(t, 3, ev["hooks_run"])
	assert.Equal(t, 0, ev["hooks_failed"])
}

func TestOnTransition_StatsFailureIsNonFatal(t *testing.T) {
	b := &fakeBroadcaster{}
	d := NewDispatcher(WithRunner(&fakeRunner{}), WithBroadcaster(b),
		WithStatistics(&fakeStats{err: errors.New("redis down")}), WithSynchronous(true))

	d.OnTransition(context.Background(), "job-1", tr)
	assert.Len(t, b.msgs, 1)
}

func TestOnTransition_SurvivesCanceledContext(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(WithTable(plottingTable(t)), WithRunner(runner))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.OnTransition(ctx, "job-1", tr)
	require.True(t, d.WaitTimeout(2*time.Second))
	assert.Len(t, runner.calls, 3)
}

func TestSetTable(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(WithRunner(runner), WithSynchronous(true))

	d.OnTransition(context.Background(), "job-1", tr)
	assert.Empty(t, runner.calls)

	d.SetTable(plottingTable(t))
	assert.Equal(t, 3, d.Table().Len())
	d.OnTransition(context.Background(), "job-1", tr)
	assert.Len(t, runner.calls, 3)

	d.SetTable(nil)
	assert.Zero(t, d.Table().Len())
}
