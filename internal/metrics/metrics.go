// Package metrics exposes Prometheus collectors for the lifecycle engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/guard"
	"github.com/bft-labs/plotline/internal/hooks"
)

const namespace = "plotline"

// Recorder holds the engine collectors. A nil *Recorder ignores every call.
type Recorder struct {
	Transitions        *prometheus.CounterVec
	TransitionsReject  *prometheus.CounterVec
	GuardResults       *prometheus.CounterVec
	HookRuns           *prometheus.CounterVec
	BroadcastDropped   prometheus.Counter
	EmergencyShutdowns prometheus.Counter

	reg prometheus.Registerer
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transitions_total", Help: "Committed job state transitions by target state",
		}, []string{"to"}),
		TransitionsReject: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "transitions_rejected_total", Help: "Rejected job state transitions by reason",
		}, []string{"reason"}),
		GuardResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "guard_results_total", Help: "Guard check results",
		}, []string{"guard", "status"}),
		HookRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "hook_runs_total", Help: "Hook command runs by result",
		}, []string{"result"}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_dropped_total", Help: "Messages dropped on full client queues",
		}),
		EmergencyShutdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "emergency_shutdowns_total", Help: "Jobs force-aborted by process shutdown",
		}),
		reg: reg,
	}
	reg.MustRegister(
		r.Transitions,
		r.TransitionsReject,
		r.GuardResults,
		r.HookRuns,
		r.BroadcastDropped,
		r.EmergencyShutdowns,
	)
	return r
}

// TransitionCommitted implements fsm.Observer.
func (r *Recorder) TransitionCommitted(_, to domain.JobState) {
	if r == nil {
		return
	}
	r.Transitions.WithLabelValues(string(to)).Inc()
}

// TransitionRejected implements fsm.Observer.
func (r *Recorder) TransitionRejected(reason string) {
	if r == nil {
		return
	}
	r.TransitionsReject.WithLabelValues(reason).Inc()
}

// GuardResult counts one guard outcome.
func (r *Recorder) GuardResult(res guard.Result) {
	if r == nil {
		return
	}
	r.GuardResults.WithLabelValues(res.Guard, string(res.Status)).Inc()
}

// HookRun counts one hook run.
func (r *Recorder) HookRun(res hooks.Result) {
	if r == nil {
		return
	}
	result := "success"
	if !res.Success {
		result = "failure"
	}
	r.HookRuns.WithLabelValues(result).Inc()
}

// BroadcastDrop counts a dropped broadcast message.
func (r *Recorder) BroadcastDrop(string) {
	if r == nil {
		return
	}
	r.BroadcastDropped.Inc()
}

// EmergencyShutdown counts a job aborted by shutdown.
func (r *Recorder) EmergencyShutdown(string) {
	if r == nil {
		return
	}
	r.EmergencyShutdowns.Inc()
}

// RegisterGauges adds gauges sampled from the live engine at scrape time.
func (r *Recorder) RegisterGauges(subscribers, liveJobs func() float64) {
	if r == nil {
		return
	}
	r.reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "broadcast_subscribers", Help: "Connected broadcast clients",
		}, subscribers),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "live_jobs", Help: "Jobs registered with the recovery coordinator",
		}, liveJobs),
	)
}

// Handler serves the metrics in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
