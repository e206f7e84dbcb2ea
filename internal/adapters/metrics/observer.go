// Package metrics exposes rollout progress as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run results recorded on rollgate_runs_total.
const (
	runSucceeded = "succeeded"
	runFailed    = "failed"
	runAborted   = "aborted"
)

// Observer implements rollout.Observer on a private registry.
type Observer struct {
	registry *prometheus.Registry

	targetsInFlight *prometheus.GaugeVec
	targetDuration  *prometheus.HistogramVec
	results         *prometheus.CounterVec
	auditFailures   *prometheus.CounterVec
	runs            *prometheus.CounterVec
	decisions       *prometheus.CounterVec
}

var _ rollout.Observer = (*Observer)(nil)

// NewObserver creates an Observer with its collectors registered on a new
// registry.
func NewObserver() *Observer {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Observer{
		registry: reg,
		targetsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rollgate_targets_in_flight",
				Help: "Targets currently being processed",
			},
			[]string{"mode"},
		),
		targetDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "rollgate_target_duration_seconds",
				Help: "Time spent running a change set on one target",
				Buckets: []float64{
					0.5, 1, 5, 15, 30, 60, 120, 300, 600,
				},
			},
			[]string{"mode", "status"}, // status: ok, failed
		),
		results: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollgate_operation_results_total",
				Help: "Operation results by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		auditFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollgate_audit_append_failures_total",
				Help: "Audit appends that failed and aborted a run",
			},
			[]string{"mode"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollgate_runs_total",
				Help: "Finished runs by mode and result",
			},
			[]string{"mode", "result"},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rollgate_approval_decisions_total",
				Help: "Resolved approval decisions by status and reason",
			},
			[]string{"status", "reason"},
		),
	}
}

// Registry returns the registry holding the collectors.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

func (o *Observer) TargetStarted(mode rollout.Mode, _ string) {
	o.targetsInFlight.WithLabelValues(string(mode)).Inc()
}

func (o *Observer) TargetFinished(mode rollout.Mode, _ string, elapsed time.Duration, failed bool) {
	o.targetsInFlight.WithLabelValues(string(mode)).Dec()
	status := "ok"
	if failed {
		status = "failed"
	}
	o.targetDuration.WithLabelValues(string(mode), status).Observe(elapsed.Seconds())
}

func (o *Observer) ResultRecorded(result rollout.RunResult) {
	o.results.WithLabelValues(string(result.Mode), string(result.Outcome)).Inc()
}

func (o *Observer) AuditFailed(mode rollout.Mode) {
	o.auditFailures.WithLabelValues(string(mode)).Inc()
}

func (o *Observer) RunFinished(report *rollout.Report) {
	result := runSucceeded
	switch {
	case report.Aborted:
		result = runAborted
	case report.Failed():
		result = runFailed
	}
	o.runs.WithLabelValues(string(report.Mode), result).Inc()
}

func (o *Observer) DecisionResolved(decision approval.Decision) {
	o.decisions.WithLabelValues(string(decision.Status), string(decision.Reason)).Inc()
}

// WriteTextfile writes all metrics in the text exposition format for the
// node exporter textfile collector. The write is atomic.
func (o *Observer) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, o.registry)
}
