// Package rollout runs change sets across targets in two phases: a
// dry-run that only checks, and an apply gated on an approved decision.
// Every attempted (target, operation) pair is recorded in the audit log
// as it completes.
package rollout

import (
	"sort"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
	"github.com/felixgeelhaar/rollgate/internal/domain/changeset"
)

// Mode selects check-only or mutating execution.
type Mode string

// Modes.
const (
	ModeDryRun Mode = audit.ModeDryRun
	ModeApply  Mode = audit.ModeApply
)

// Outcome is the result of one operation on one target.
type Outcome string

// Outcomes.
const (
	OutcomeUnchanged   Outcome = "unchanged"
	OutcomeWouldChange Outcome = "would-change"
	OutcomeChanged     Outcome = "changed"
	OutcomeFailed      Outcome = "failed"
)

// RunResult is the outcome of one operation on one target.
type RunResult struct {
	ReportID    string          `json:"report_id" yaml:"report_id"`
	TargetID    string          `json:"target" yaml:"target"`
	OperationID string          `json:"operation" yaml:"operation"`
	Index       int             `json:"index" yaml:"index"`
	Kind        changeset.Kind  `json:"kind" yaml:"kind"`
	Mode        Mode            `json:"mode" yaml:"mode"`
	Outcome     Outcome         `json:"outcome" yaml:"outcome"`
	Diff        *changeset.Diff `json:"diff,omitempty" yaml:"diff,omitempty"`
	Error       string          `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorCode   Code            `json:"error_code,omitempty" yaml:"error_code,omitempty"`
	StartedAt   time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time       `json:"finished_at" yaml:"finished_at"`

	// Err is the typed failure; not serialised.
	Err error `json:"-" yaml:"-"`
}

// Duration returns how long the operation took.
func (r RunResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Failed reports whether the result is a failure.
func (r RunResult) Failed() bool {
	return r.Outcome == OutcomeFailed
}

// Summary counts results by outcome.
type Summary struct {
	Targets       int `json:"targets" yaml:"targets"`
	FailedTargets int `json:"failed_targets" yaml:"failed_targets"`
	Unchanged     int `json:"unchanged" yaml:"unchanged"`
	WouldChange   int `json:"would_change" yaml:"would_change"`
	Changed       int `json:"changed" yaml:"changed"`
	Failed        int `json:"failed" yaml:"failed"`
}

// Report aggregates the results of one run.
type Report struct {
	ID          string      `json:"id" yaml:"id"`
	Mode        Mode        `json:"mode" yaml:"mode"`
	ChangeSet   string      `json:"changeset" yaml:"changeset"`
	Fingerprint string      `json:"fingerprint" yaml:"fingerprint"`
	Targets     []string    `json:"targets" yaml:"targets"`
	Actor       string      `json:"actor,omitempty" yaml:"actor,omitempty"`
	StartedAt   time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time   `json:"finished_at" yaml:"finished_at"`
	Results     []RunResult `json:"results" yaml:"results"`
	Summary     Summary     `json:"summary" yaml:"summary"`

	// Aborted is set when the run stopped early, e.g. on an audit failure.
	Aborted bool `json:"aborted,omitempty" yaml:"aborted,omitempty"`
}

// Finalize sorts results by target then operation order and computes the summary.
func (r *Report) Finalize() {
	sort.SliceStable(r.Results, func(i, j int) bool {
		a, b := r.Results[i], r.Results[j]
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.Index < b.Index
	})

	s := Summary{Targets: len(r.Targets)}
	failedTargets := make(map[string]bool)
	for _, res := range r.Results {
		switch res.Outcome {
		case OutcomeUnchanged:
			s.Unchanged++
		case OutcomeWouldChange:
			s.WouldChange++
		case OutcomeChanged:
			s.Changed++
		case OutcomeFailed:
			s.Failed++
			failedTargets[res.TargetID] = true
		}
	}
	s.FailedTargets = len(failedTargets)
	r.Summary = s
}

// HasChanges reports whether any result would change or changed a target.
func (r *Report) HasChanges() bool {
	return r.Summary.WouldChange > 0 || r.Summary.Changed > 0
}

// Failed reports whether any operation failed.
func (r *Report) Failed() bool {
	return r.Summary.Failed > 0
}

// ResultsFor returns the results of one target in operation order.
func (r *Report) ResultsFor(target string) []RunResult {
	var out []RunResult
	for _, res := range r.Results {
		if res.TargetID == target {
			out = append(out, res)
		}
	}
	return out
}

// Record converts a result into an audit record.
func (r RunResult) Record(changeSet, fingerprint, actor string) audit.Record {
	rec := audit.Record{
		ReportID:    r.ReportID,
		Mode:        string(r.Mode),
		TargetID:    r.TargetID,
		OperationID: r.OperationID,
		Kind:        string(r.Kind),
		Outcome:     string(r.Outcome),
		Error:       r.Error,
		ErrorCode:   string(r.ErrorCode),
		Actor:       actor,
		ChangeSet:   changeSet,
		Fingerprint: fingerprint,
	}
	if r.Diff != nil {
		rec.Diff = r.Diff.Summary
	}
	return rec
}
