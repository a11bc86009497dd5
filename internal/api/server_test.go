package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/plotline/internal/app"
	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/internal/metrics"
)

type fakeStats struct {
	counts map[string]int64
	err    error
}

func (f fakeStats) JobEventCounts(context.Context, string) (map[string]int64, error) {
	return f.counts, f.err
}

func newTestServer(t *testing.T, opts ...Option) (*httptest.Server, *app.Engine, string) {
	t.Helper()
	dir := t.TempDir()

	reg := guard.NewRegistry()
	reg.MustRegister(guard.Func{GuardName: "paper_session", Fn: func(_ context.Context, jobID string) (guard.Result, error) {
		if jobID == "blocked" {
			return guard.Fail("paper_session", "no paper loaded"), nil
		}
		return guard.SoftFail("paper_session", "session expires soon"), nil
	}}, []domain.JobState{domain.StateArmed})

	promReg := prometheus.NewRegistry()
	e, err := app.New(app.Config{JobsDir: dir, ShutdownTimeout: time.Second},
		app.WithGuardRegistry(reg),
		app.WithSynchronousHooks(),
		app.WithJournalOptions(journal.WithoutSync()),
		app.WithMetrics(promReg),
	)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Stop() })

	opts = append([]Option{
		WithMetrics(metrics.Handler(promReg)),
		WithWebSocket(http.HandlerFunc(e.Hub().ServeWS)),
	}, opts...)
	srv := httptest.NewServer(New(e, opts...).Router())
	t.Cleanup(srv.Close)
	return srv, e, dir
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func transition(t *testing.T, base, id, to string) (int, map[string]any) {
	t.Helper()
	return do(t, http.MethodPost, base+"/jobs/"+id+"/transitions", `{"to":"`+to+`","reason":"operator"}`)
}

func TestHealthzAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	code, body := do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJobLifecycleOverHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t)

	code, body := do(t, http.MethodPost, srv.URL+"/jobs/job-1", "")
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "NEW", body["current_state"])

	code, _ = do(t, http.MethodPost, srv.URL+"/jobs/job-1", "")
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, http.MethodPost, srv.URL+"/jobs/job-1/transitions",
		`{"to":"ready","reason":"skip analysis","metadata":{"b":1,"a":"x"}}`)
	require.Equal(t, http.StatusOK, code)
	tr := body["transition"].(map[string]any)
	assert.Equal(t, "NEW", tr["from_state"])
	assert.Equal(t, "READY", tr["to_state"])
	assert.Equal(t, "skip analysis", tr["reason"])

	code, body = transition(t, srv.URL, "job-1", "ARMED")
	require.Equal(t, http.StatusOK, code)
	warnings := body["warnings"].([]any)
	require.Len(t, warnings, 1)
	assert.Equal(t, "SOFT_FAIL", warnings[0].(map[string]any)["result"])

	code, _ = transition(t, srv.URL, "job-1", "QUEUED")
	assert.Equal(t, http.StatusConflict, code)

	code, body = do(t, http.MethodGet, srv.URL+"/jobs/job-1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ARMED", body["current_state"])
	assert.Equal(t, true, body["resumable"])
	assert.Equal(t, []any{"PLOTTING", "READY", "FAILED", "ABORTED"}, body["next_states"])

	code, body = do(t, http.MethodGet, srv.URL+"/jobs/job-1/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["transitions"], 2)

	code, body = do(t, http.MethodGet, srv.URL+"/jobs/resumable", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"job-1"}, body["jobs"])
}

func TestTransitionErrors(t *testing.T) {
	srv, e, dir := newTestServer(t)

	_, err := e.CreateJob("blocked")
	require.NoError(t, err)
	code, _ := transition(t, srv.URL, "blocked", "READY")
	require.Equal(t, http.StatusOK, code)

	code, body := transition(t, srv.URL, "blocked", "ARMED")
	assert.Equal(t, http.StatusPreconditionFailed, code)
	guards := body["guards"].([]any)
	require.Len(t, guards, 1)
	assert.Equal(t, "FAIL", guards[0].(map[string]any)["result"])

	code, _ = transition(t, srv.URL, "missing", "READY")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = transition(t, srv.URL, "blocked", "SIDEWAYS")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodPost, srv.URL+"/jobs/blocked/transitions", "{")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, http.MethodGet, srv.URL+"/jobs/..", "")
	assert.NotEqual(t, http.StatusOK, code)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "corrupt"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt", journal.FileName), []byte("{not json\n"), 0o644))
	code, _ = do(t, http.MethodGet, srv.URL+"/jobs/corrupt", "")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestStatsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)
	code, _ := do(t, http.MethodGet, srv.URL+"/jobs/job-1/stats", "")
	assert.Equal(t, http.StatusNotFound, code)

	srv, _, _ = newTestServer(t, WithStats(fakeStats{counts: map[string]int64{"state_change": 3}}))
	code, body := do(t, http.MethodGet, srv.URL+"/jobs/job-1/stats", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]any{"state_change": float64(3)}, body["events"])
}
