package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
	"github.com/felixgeelhaar/rollgate/internal/domain/changeset"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"github.com/felixgeelhaar/rollgate/internal/ports"
)

// Config wires a Controller.
type Config struct {
	Connector     Connector
	Log           *audit.Log
	Gate          *approval.Gate
	MaxParallel   int
	TargetTimeout time.Duration
	Actor         string
	Logger        ports.Logger
	Observer      Observer
	Tracer        trace.Tracer

	// NewReportID overrides report ID generation.
	NewReportID func() string
}

// Controller is the entry point for gated rollouts.
type Controller struct {
	coordinator *Coordinator
	gate        *approval.Gate
	log         *audit.Log
	actor       string
	logger      ports.Logger
	observer    Observer
	newReportID func() string
}

// NewController validates cfg and wires the approval gate into the audit log.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Connector == nil {
		return nil, errors.New("connector is required")
	}
	if cfg.Log == nil {
		return nil, errors.New("audit log is required")
	}
	if cfg.Gate == nil {
		return nil, errors.New("approval gate is required")
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.NewReportID == nil {
		cfg.NewReportID = uuid.NewString
	}

	var execOpts []ExecutorOption
	if cfg.TargetTimeout > 0 {
		execOpts = append(execOpts, WithTargetTimeout(cfg.TargetTimeout))
	}
	if cfg.Tracer != nil {
		execOpts = append(execOpts, WithTracer(cfg.Tracer))
	}
	coordinator := NewCoordinator(NewExecutor(cfg.Connector, execOpts...), cfg.Log, cfg.MaxParallel, cfg.Logger, cfg.Observer)

	c := &Controller{
		coordinator: coordinator,
		gate:        cfg.Gate,
		log:         cfg.Log,
		actor:       cfg.Actor,
		logger:      coordinator.logger,
		observer:    cfg.Observer,
		newReportID: cfg.NewReportID,
	}
	cfg.Gate.OnResolve(c.recordDecision)
	return c, nil
}

// Gate returns the approval gate.
func (c *Controller) Gate() *approval.Gate {
	return c.gate
}

// OnAudit registers fn to receive every audit record after it is stored.
func (c *Controller) OnAudit(fn func(audit.Record)) {
	c.log.OnAudit(fn)
}

// RunDryRun checks cs on every target without mutating anything, records
// the results under a new report and opens a pending decision for it.
func (c *Controller) RunDryRun(ctx context.Context, cs *changeset.ChangeSet, targets []*fleet.Target) (*Report, error) {
	if err := validateRun(cs, targets); err != nil {
		return nil, err
	}

	report, err := c.coordinator.Run(ctx, RunRequest{
		ReportID:  c.newReportID(),
		Mode:      ModeDryRun,
		ChangeSet: cs,
		Targets:   targets,
		Actor:     c.actor,
	})
	if err != nil {
		return report, err
	}

	if _, err := c.gate.Open(ctx, approval.OpenRequest{
		ReportID:    report.ID,
		ChangeSet:   report.ChangeSet,
		Fingerprint: report.Fingerprint,
		Targets:     report.Targets,
	}); err != nil {
		return report, fmt.Errorf("failed to open approval: %w", err)
	}
	return report, nil
}

// RunApply applies cs to targets when token authorises exactly this change
// set and target set. Without authorisation no target is touched, no apply
// record is written and the error carries CodeApprovalRejected whatever the
// decision's reason.
func (c *Controller) RunApply(ctx context.Context, cs *changeset.ChangeSet, targets []*fleet.Target, token string) (*Report, error) {
	if err := validateRun(cs, targets); err != nil {
		return nil, err
	}

	decision, err := c.gate.Authorize(ctx, token, cs.Fingerprint(), targetIDs(targets))
	if err != nil {
		c.logger.Warn(ctx, "apply not authorised", ports.Err(err))
		return nil, &Error{Code: CodeApprovalRejected, Err: err}
	}

	return c.coordinator.Run(ctx, RunRequest{
		ReportID:  decision.ID,
		Mode:      ModeApply,
		ChangeSet: cs,
		Targets:   targets,
		Actor:     c.actor,
	})
}

// AwaitApproval blocks until the report's decision is resolved. A zero
// timeout waits indefinitely. Rejection, timeout and cancellation are
// returned as approval errors.
func (c *Controller) AwaitApproval(ctx context.Context, reportID string, timeout time.Duration) (approval.Decision, error) {
	c.logger.Info(ctx, "waiting for approval", ports.Report(reportID), ports.F("timeout", timeout.String()))
	d, err := c.gate.Await(ctx, reportID, timeout)
	if err != nil {
		return d, approvalError(err)
	}
	return d, nil
}

func (c *Controller) recordDecision(ctx context.Context, d approval.Decision) error {
	c.observer.DecisionResolved(d)
	actor := d.Actor
	if actor == "" {
		actor = c.actor
	}
	_, err := c.log.Append(ctx, audit.Record{
		ReportID:    d.ID,
		Mode:        audit.ModeApproval,
		ChangeSet:   d.ChangeSet,
		Fingerprint: d.Fingerprint,
		Outcome:     string(d.Status),
		Error:       d.Reason,
		Actor:       actor,
	})
	if err != nil {
		c.observer.AuditFailed(Mode(audit.ModeApproval))
		return &Error{Code: CodeAuditWriteFailed, Err: err}
	}
	return nil
}

func approvalError(err error) error {
	if errors.Is(err, approval.ErrTimeout) {
		return &Error{Code: CodeApprovalTimeout, Err: err}
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	return &Error{Code: CodeApprovalRejected, Err: err}
}

func validateRun(cs *changeset.ChangeSet, targets []*fleet.Target) error {
	if cs == nil || cs.Len() == 0 {
		return errors.New("change set has no operations")
	}
	if len(targets) == 0 {
		return errors.New("no targets selected")
	}
	seen := make(map[fleet.TargetID]bool, len(targets))
	for _, t := range targets {
		if seen[t.ID()] {
			return fmt.Errorf("target %s selected twice", t.ID())
		}
		seen[t.ID()] = true
	}
	return nil
}

func targetIDs(targets []*fleet.Target) []string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID().String()
	}
	return ids
}
