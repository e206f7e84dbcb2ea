package rollout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/rollgate/internal/domain/changeset"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/transport"
)

const tracerName = "github.com/felixgeelhaar/rollgate/rollout"

// Connector opens connections to targets. transport.Registry implements it.
type Connector interface {
	Connect(ctx context.Context, target *fleet.Target) (transport.Connection, error)
}

// Emitter receives each result as soon as it is produced. A non-nil error
// stops the target.
type Emitter func(RunResult) error

// Executor runs one change set on one target.
type Executor struct {
	connector Connector
	timeout   time.Duration
	tracer    trace.Tracer
	now       func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTargetTimeout bounds the time spent on one target (0 = no bound).
func WithTargetTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithExecutorClock overrides the time source.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor.
func NewExecutor(connector Connector, opts ...ExecutorOption) *Executor {
	e := &Executor{
		connector: connector,
		tracer:    otel.Tracer(tracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the operations of cs on target in order. The first failure
// is emitted and the remaining operations are not attempted. A connection
// failure is emitted as one failed result for the first operation. Run
// returns an error only when emit fails or ctx ends before the target is
// finished; operation failures are reported through results.
func (e *Executor) Run(ctx context.Context, reportID string, mode Mode, cs *changeset.ChangeSet, target *fleet.Target, emit Emitter) error {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	ctx, span := e.tracer.Start(ctx, "rollout.target", trace.WithAttributes(
		attribute.String("rollout.report", reportID),
		attribute.String("rollout.mode", string(mode)),
		attribute.String("rollout.target", target.ID().String()),
		attribute.String("rollout.changeset", cs.Name()),
	))
	defer span.End()

	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return err
	}
	ops := cs.Operations()
	started := e.now()

	conn, err := e.connector.Connect(ctx, target)
	if err != nil {
		first := ops[0]
		res := e.failure(reportID, mode, target, first, 0, started, &Error{
			Code:      CodeConnection,
			Target:    target.ID().String(),
			Operation: first.ID(),
			Err:       err,
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, "connection failed")
		return emit(res)
	}
	defer func() { _ = conn.Close() }()

	for i, op := range ops {
		if err := ctx.Err(); errors.Is(err, context.Canceled) {
			return err
		}
		res := e.runOperation(ctx, reportID, mode, target, conn, op, i)
		if err := emit(res); err != nil {
			return err
		}
		if res.Failed() {
			span.SetStatus(codes.Error, res.Error)
			return nil
		}
	}
	return nil
}

func (e *Executor) runOperation(ctx context.Context, reportID string, mode Mode, target *fleet.Target, conn transport.Connection, op changeset.Operation, index int) RunResult {
	ctx, span := e.tracer.Start(ctx, "rollout.operation", trace.WithAttributes(
		attribute.String("rollout.target", target.ID().String()),
		attribute.String("rollout.operation", op.ID()),
		attribute.String("rollout.kind", string(op.Kind())),
	))
	defer span.End()

	started := e.now()
	fail := func(err error) RunResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.failure(reportID, mode, target, op, index, started, &Error{
			Code:      CodeOperationFailed,
			Target:    target.ID().String(),
			Operation: op.ID(),
			Err:       err,
		})
	}

	diff, err := op.Check(ctx, conn)
	if err != nil {
		return fail(fmt.Errorf("check: %w", err))
	}

	res := RunResult{
		ReportID:    reportID,
		TargetID:    target.ID().String(),
		OperationID: op.ID(),
		Index:       index,
		Kind:        op.Kind(),
		Mode:        mode,
		Outcome:     OutcomeUnchanged,
		StartedAt:   started,
	}
	if diff.Changed {
		d := diff
		res.Diff = &d
		res.Outcome = OutcomeWouldChange
		if mode == ModeApply {
			if err := op.Apply(ctx, conn); err != nil {
				return fail(fmt.Errorf("apply: %w", err))
			}
			res.Outcome = OutcomeChanged
		}
	}

	span.SetAttributes(attribute.String("rollout.outcome", string(res.Outcome)))
	res.FinishedAt = e.now()
	return res
}

func (e *Executor) failure(reportID string, mode Mode, target *fleet.Target, op changeset.Operation, index int, started time.Time, err *Error) RunResult {
	return RunResult{
		ReportID:    reportID,
		TargetID:    target.ID().String(),
		OperationID: op.ID(),
		Index:       index,
		Kind:        op.Kind(),
		Mode:        mode,
		Outcome:     OutcomeFailed,
		Error:       err.Error(),
		ErrorCode:   err.Code,
		StartedAt:   started,
		FinishedAt:  e.now(),
		Err:         err,
	}
}
