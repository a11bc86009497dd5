package app

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/plotline/internal/broadcast"
	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/fsm"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/internal/recovery"
)

type recordingRunner struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingRunner) Run(_ context.Context, argv []string) ([]byte, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, argv)
	return []byte("ok"), 0, nil
}

func (r *recordingRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

type recordingPlugin struct {
	name    string
	initErr error
	events  *[]string
}

func (p *recordingPlugin) Name() string { return p.name }

func (p *recordingPlugin) Initialize(_ context.Context, cfg PluginConfig) error {
	*p.events = append(*p.events, "init:"+p.name)
	if cfg.Coordinator == nil || cfg.Journal == nil || cfg.Dispatcher == nil {
		return errors.New("missing engine handles")
	}
	return p.initErr
}

func (p *recordingPlugin) Shutdown(context.Context) error {
	*p.events = append(*p.events, "shutdown:"+p.name)
	return nil
}

type phaseRecorder struct {
	mu  sync.Mutex
	got []PhaseChange
}

func (r *phaseRecorder) OnPhaseChange(c PhaseChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, c)
}

func (r *phaseRecorder) path() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, 0, len(r.got))
	for _, c := range r.got {
		out = append(out, c.To)
	}
	return out
}

func (r *phaseRecorder) last() PhaseChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

func (r *phaseRecorder) find(p Phase) (PhaseChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.got {
		if c.To == p {
			return c, true
		}
	}
	return PhaseChange{}, false
}

// systemConn collects what the hub pushes on the system channel.
type systemConn struct {
	mu   sync.Mutex
	msgs []PhaseChange
}

func (c *systemConn) ID() string { return "observer" }

func (c *systemConn) Send(_ context.Context, data []byte) error {
	var pc PhaseChange
	if err := json.Unmarshal(data, &pc); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, pc)
	return nil
}

func (c *systemConn) Close() error { return nil }

func (c *systemConn) received() []PhaseChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PhaseChange(nil), c.msgs...)
}

func newTestEngine(t *testing.T, dir string, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithSynchronousHooks(),
		WithJournalOptions(journal.WithoutSync()),
		WithGuardRegistry(guard.NewRegistry()),
	}, opts...)
	e, err := New(Config{JobsDir: dir, ShutdownTimeout: time.Second}, opts...)
	require.NoError(t, err)
	return e
}

func driveTo(t *testing.T, e *Engine, jobID string, path ...domain.JobState) {
	t.Helper()
	for _, s := range path {
		_, err := e.Transition(context.Background(), jobID, s, "test", nil)
		require.NoError(t, err, "to %s", s)
	}
}

func TestNew_RequiresJobsDir(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestNew_RejectsBadHooksFile(t *testing.T) {
	dir := t.TempDir()
	hooksFile := filepath.Join(dir, "hooks.toml")
	require.NoError(t, os.WriteFile(hooksFile, []byte("[state]\nNOPE = [{ name = \"x\", command = \"true\" }]\n"), 0o644))

	_, err := New(Config{JobsDir: dir, HooksFile: hooksFile})
	assert.Error(t, err)
}

func TestEngine_OperationsRequireRunning(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	_, err := e.CreateJob("job-1")
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	_, err = e.Transition(context.Background(), "job-1", domain.StateReady, "", nil)
	assert.ErrorIs(t, err, domain.ErrNotRunning)
	assert.ErrorIs(t, e.Stop(), domain.ErrNotRunning)
}

func TestEngine_LifecycleAndMetrics(t *testing.T) {
	dir := t.TempDir()
	hooksFile := filepath.Join(dir, "hooks.toml")
	require.NoError(t, os.WriteFile(hooksFile, []byte(`
[state]
COMPLETED = [{ name = "notify", command = "notify-send {job_id} {to_state}" }]
`), 0o644))

	runner := &recordingRunner{}
	reg := prometheus.NewRegistry()
	e, err := New(Config{JobsDir: filepath.Join(dir, "jobs"), HooksFile: hooksFile, ShutdownTimeout: time.Second},
		WithSynchronousHooks(),
		WithJournalOptions(journal.WithoutSync()),
		WithHookRunner(runner),
		WithMetrics(reg),
	)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, PhaseServing, e.Phase())
	assert.ErrorIs(t, e.Start(context.Background()), domain.ErrAlreadyRunning)

	m, err := e.CreateJob("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, m.State())

	_, err = e.CreateJob("job-1")
	assert.ErrorIs(t, err, domain.ErrJobExists)

	st, err := e.Status("job-1")
	require.NoError(t, err)
	assert.True(t, st.Live)
	assert.Equal(t, domain.StateNew, st.CurrentState)

	driveTo(t, e, "job-1", domain.StateReady, domain.StatePlotting, domain.StateCompleted)

	_, live := e.Coordinator().Lookup("job-1")
	assert.False(t, live, "terminal jobs are released")

	hist, err := e.History("job-1")
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, domain.StateCompleted, hist[2].To)

	assert.Equal(t, [][]string{{"notify-send", "job-1", "COMPLETED"}}, runner.Calls())
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Transitions.WithLabelValues("COMPLETED")))
	assert.Equal(t, float64(1), testutil.ToFloat64(e.metrics.HookRuns.WithLabelValues("success")))

	_, err = e.Transition(context.Background(), "job-1", domain.StatePlotting, "again", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.ErrorIs(t, err, domain.ErrTerminalState)

	resumable, err := e.Resumable()
	require.NoError(t, err)
	assert.Empty(t, resumable)

	require.NoError(t, e.Stop())
	assert.Equal(t, PhaseStopped, e.Phase())
	assert.ErrorIs(t, e.Start(context.Background()), domain.ErrShutdown)
}

func TestEngine_GuardBlocks(t *testing.T) {
	reg := guard.NewRegistry()
	reg.MustRegister(guard.Func{GuardName: "paper", Fn: func(context.Context, string) (guard.Result, error) {
		return guard.Fail("paper", "no paper loaded"), nil
	}}, []domain.JobState{domain.StateArmed})

	e := newTestEngine(t, t.TempDir(), WithGuardRegistry(reg))
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	_, err := e.CreateJob("job-1")
	require.NoError(t, err)
	driveTo(t, e, "job-1", domain.StateReady)

	_, err = e.Transition(context.Background(), "job-1", domain.StateArmed, "arm", nil)
	require.ErrorIs(t, err, domain.ErrGuardBlocked)
	var gb *fsm.GuardBlockedError
	require.ErrorAs(t, err, &gb)
	require.Len(t, gb.Results, 1)
	assert.Equal(t, "no paper loaded", gb.Results[0].Message)

	st, err := e.Status("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.CurrentState)
}

func TestEngine_StopAbortsPlottingJobs(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, dir)
	require.NoError(t, e.Start(context.Background()))

	for _, id := range []string{"plotting", "ready"} {
		_, err := e.CreateJob(id)
		require.NoError(t, err)
		driveTo(t, e, id, domain.StateReady)
	}
	driveTo(t, e, "plotting", domain.StatePlotting)

	require.NoError(t, e.Shutdown("signal_received"))

	st, err := e.Status("plotting")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAborted, st.CurrentState)
	assert.True(t, st.HasEmergencyShutdown)
	assert.Equal(t, "signal_received", st.LastShutdown.Reason)

	st, err = e.Status("ready")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.CurrentState)

	next := newTestEngine(t, dir)
	require.NoError(t, next.Start(context.Background()))
	t.Cleanup(func() { _ = next.Stop() })
	assert.Equal(t, []string{"ready"}, next.RecoveryReport().Recovered)
	assert.Empty(t, next.RecoveryReport().Repaired)
}

func TestEngine_PhasesCarryRecoveryAndShutdown(t *testing.T) {
	dir := t.TempDir()
	store := journal.NewStore(dir, journal.WithoutSync())
	ts := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for _, ev := range []journal.Event{
		journal.StateChange{From: domain.StateNew, To: domain.StateReady, Timestamp: ts},
		journal.StateChange{From: domain.StateReady, To: domain.StatePlotting, Timestamp: ts.Add(time.Minute)},
		journal.EmergencyShutdown{State: domain.StatePlotting, Timestamp: ts.Add(2 * time.Minute), Reason: recovery.ReasonSignal},
	} {
		require.NoError(t, store.Append("interrupted", ev))
	}
	require.NoError(t, store.Append("waiting", journal.StateChange{From: domain.StateNew, To: domain.StateReady, Timestamp: ts}))

	phases := &phaseRecorder{}
	e := newTestEngine(t, dir, WithPhaseListener(phases))
	assert.Equal(t, PhaseIdle, e.Phase())

	watcher := &systemConn{}
	require.NoError(t, e.Hub().Subscribe(watcher, broadcast.ChannelSystem))

	require.NoError(t, e.Start(context.Background()))
	serving, ok := phases.find(PhaseServing)
	require.True(t, ok)
	assert.Equal(t, PhaseRecovering, serving.From)
	assert.Equal(t, 1, serving.Recovered)
	assert.Equal(t, []string{"interrupted"}, serving.Repaired)
	assert.Empty(t, serving.Failed)

	require.Eventually(t, func() bool {
		for _, m := range watcher.received() {
			if m.Type == TypeEnginePhase && m.To == PhaseServing {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	driveTo(t, e, "waiting", domain.StatePlotting)
	require.NoError(t, e.Shutdown(recovery.ReasonSignal))

	assert.Equal(t, []Phase{PhaseRecovering, PhaseServing, PhaseDraining, PhaseStopped}, phases.path())
	draining, ok := phases.find(PhaseDraining)
	require.True(t, ok)
	assert.Equal(t, recovery.ReasonSignal, draining.Reason)
	assert.Equal(t, []string{"waiting"}, draining.Aborted)

	assert.ErrorIs(t, e.Shutdown(recovery.ReasonExit), domain.ErrNotRunning)
	assert.ErrorIs(t, e.Start(context.Background()), domain.ErrShutdown)
}

func TestEngine_ShutdownDuringGuardEvaluation(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	reg := guard.NewRegistry()
	reg.MustRegister(guard.Func{GuardName: guard.NameCameraHealth, Fn: func(ctx context.Context, _ string) (guard.Result, error) {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return guard.Pass(guard.NameCameraHealth, "ok"), nil
	}}, []domain.JobState{domain.StatePlotting})

	dir := t.TempDir()
	e := newTestEngine(t, dir, WithGuardRegistry(reg))
	require.NoError(t, e.Start(context.Background()))
	_, err := e.CreateJob("job-1")
	require.NoError(t, err)
	driveTo(t, e, "job-1", domain.StateReady)

	errc := make(chan error, 1)
	go func() {
		_, err := e.Transition(context.Background(), "job-1", domain.StatePlotting, "start", nil)
		errc <- err
	}()
	<-entered
	require.NoError(t, e.Shutdown(recovery.ReasonSignal))
	close(release)

	require.ErrorIs(t, <-errc, domain.ErrShutdown)

	st, err := e.Status("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, st.CurrentState)
	assert.False(t, st.HasEmergencyShutdown)

	next := newTestEngine(t, dir)
	require.NoError(t, next.Start(context.Background()))
	t.Cleanup(func() { _ = next.Stop() })
	assert.Equal(t, []string{"job-1"}, next.RecoveryReport().Recovered)
	m, err := next.Job(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateReady, m.State())
}

func TestEngine_StartRepairsInterruptedJob(t *testing.T) {
	dir := t.TempDir()
	store := journal.NewStore(dir, journal.WithoutSync())
	ts := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	for _, ev := range []journal.Event{
		journal.StateChange{From: domain.StateNew, To: domain.StateReady, Timestamp: ts},
		journal.StateChange{From: domain.StateReady, To: domain.StatePlotting, Timestamp: ts.Add(time.Minute)},
		journal.EmergencyShutdown{State: domain.StatePlotting, Timestamp: ts.Add(2 * time.Minute), Reason: "signal_received"},
	} {
		require.NoError(t, store.Append("job-1", ev))
	}

	e := newTestEngine(t, dir)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	rep := e.RecoveryReport()
	assert.Equal(t, []string{"job-1"}, rep.Repaired)
	assert.Empty(t, rep.Recovered)

	st, err := e.Status("job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, st.CurrentState)
	assert.True(t, st.Resumable)
	assert.False(t, st.Live)
}

func TestEngine_JobRecoversFromJournal(t *testing.T) {
	dir := t.TempDir()
	first := newTestEngine(t, dir)
	require.NoError(t, first.Start(context.Background()))
	_, err := first.CreateJob("job-1")
	require.NoError(t, err)
	driveTo(t, first, "job-1", domain.StateQueued, domain.StateAnalyzed)
	require.NoError(t, first.Stop())

	_, err = newTestEngine(t, dir).CreateJob("job-1")
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	second := newTestEngine(t, dir)
	require.NoError(t, second.Start(context.Background()))
	t.Cleanup(func() { _ = second.Stop() })

	_, err = second.CreateJob("job-1")
	assert.ErrorIs(t, err, domain.ErrJobExists)

	m, err := second.Job(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateAnalyzed, m.State())
	assert.Equal(t, 2, m.Len())

	_, err = second.Job(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = second.Job(context.Background(), "../escape")
	assert.ErrorIs(t, err, journal.ErrInvalidJobID)
}

func TestEngine_PluginOrder(t *testing.T) {
	var events []string
	a := &recordingPlugin{name: "a", events: &events}
	b := &recordingPlugin{name: "b", events: &events}

	e := newTestEngine(t, t.TempDir(), WithPlugin(a), WithPlugin(b))
	require.NoError(t, e.Start(context.Background()))
	require.NoError(t, e.Stop())

	assert.Equal(t, []string{"init:a", "init:b", "shutdown:b", "shutdown:a"}, events)
}

func TestEngine_PluginInitFailure(t *testing.T) {
	var events []string
	a := &recordingPlugin{name: "a", events: &events}
	b := &recordingPlugin{name: "b", events: &events, initErr: errors.New("boom")}

	phases := &phaseRecorder{}
	e := newTestEngine(t, t.TempDir(), WithPlugin(a), WithPlugin(b), WithPhaseListener(phases))
	err := e.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, PhaseCrashed, e.Phase())
	assert.Equal(t, []string{"init:a", "init:b", "shutdown:a"}, events)
	assert.Equal(t, []Phase{PhaseRecovering, PhaseCrashed}, phases.path())
	assert.Equal(t, "plugin b: boom", phases.last().Reason)

	_, err = e.CreateJob("job-1")
	assert.ErrorIs(t, err, domain.ErrNotRunning)

	b.initErr = nil
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })
	assert.Equal(t, PhaseServing, e.Phase())
	assert.Equal(t, []Phase{PhaseRecovering, PhaseCrashed, PhaseRecovering, PhaseServing}, phases.path())
}
