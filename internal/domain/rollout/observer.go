package rollout

import (
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
)

// Observer receives progress notifications, e.g. for metrics. Calls may
// arrive concurrently from target workers.
type Observer interface {
	TargetStarted(mode Mode, target string)
	TargetFinished(mode Mode, target string, elapsed time.Duration, failed bool)
	ResultRecorded(result RunResult)
	AuditFailed(mode Mode)
	RunFinished(report *Report)
	DecisionResolved(decision approval.Decision)
}

// NopObserver ignores all notifications.
type NopObserver struct{}

func (NopObserver) TargetStarted(Mode, string)                       {}
func (NopObserver) TargetFinished(Mode, string, time.Duration, bool) {}
func (NopObserver) ResultRecorded(RunResult)                         {}
func (NopObserver) AuditFailed(Mode)                                 {}
func (NopObserver) RunFinished(*Report)                              {}
func (NopObserver) DecisionResolved(approval.Decision)               {}

var _ Observer = NopObserver{}
