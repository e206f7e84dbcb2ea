package rollout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/adapters/logging"
	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
	"github.com/felixgeelhaar/rollgate/internal/domain/changeset"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"github.com/felixgeelhaar/rollgate/internal/ports"
)

// DefaultMaxParallel bounds concurrent targets when unset.
const DefaultMaxParallel = 10

// AuditAppendTimeout bounds a single audit append. Appends do not inherit
// run cancellation: a result produced before cancellation is still recorded.
const AuditAppendTimeout = 30 * time.Second

// Coordinator fans a change set out across targets and streams every
// result into the audit log.
type Coordinator struct {
	executor    *Executor
	log         *audit.Log
	maxParallel int
	logger      ports.Logger
	observer    Observer
	now         func() time.Time
}

// NewCoordinator creates a coordinator. maxParallel <= 0 selects the default.
func NewCoordinator(executor *Executor, log *audit.Log, maxParallel int, logger ports.Logger, observer Observer) *Coordinator {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Coordinator{
		executor:    executor,
		log:         log,
		maxParallel: maxParallel,
		logger:      logger,
		observer:    observer,
		now:         time.Now,
	}
}

// RunRequest describes one run.
type RunRequest struct {
	ReportID  string
	Mode      Mode
	ChangeSet *changeset.ChangeSet
	Targets   []*fleet.Target
	Actor     string
}

// Run executes req. A failed target never blocks the others. The first
// audit append failure cancels every in-flight target and is returned as
// CodeAuditWriteFailed together with the partial report.
func (c *Coordinator) Run(ctx context.Context, req RunRequest) (*Report, error) {
	targets := fleet.SortTargets(append([]*fleet.Target(nil), req.Targets...))
	fingerprint := req.ChangeSet.Fingerprint()
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID().String()
	}

	report := &Report{
		ID:          req.ReportID,
		Mode:        req.Mode,
		ChangeSet:   req.ChangeSet.Name(),
		Fingerprint: fingerprint,
		Targets:     ids,
		Actor:       req.Actor,
		StartedAt:   c.now().UTC(),
	}

	logger := c.logger.With(ports.Report(req.ReportID), ports.F(ports.KeyMode, string(req.Mode)))
	logger.Info(ctx, "run started", ports.F("targets", len(targets)), ports.F("changeset", req.ChangeSet.Name()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		auditErr error
	)
	sem := make(chan struct{}, c.maxParallel)

	emit := func(res RunResult) error {
		mu.Lock()
		defer mu.Unlock()
		if auditErr != nil {
			return auditErr
		}
		appendCtx, cancelAppend := context.WithTimeout(context.WithoutCancel(ctx), AuditAppendTimeout)
		_, err := c.log.Append(appendCtx, res.Record(report.ChangeSet, fingerprint, req.Actor))
		cancelAppend()
		if err != nil {
			auditErr = &Error{
				Code:      CodeAuditWriteFailed,
				Target:    res.TargetID,
				Operation: res.OperationID,
				Err:       err,
			}
			c.observer.AuditFailed(req.Mode)
			logger.Error(ctx, "audit append failed, aborting run",
				ports.Target(res.TargetID), ports.Operation(res.OperationID), ports.Err(err))
			cancel()
			return auditErr
		}
		report.Results = append(report.Results, res)
		c.observer.ResultRecorded(res)
		return nil
	}

dispatch:
	for _, target := range targets {
		select {
		case sem <- struct{}{}:
		case <-runCtx.Done():
			break dispatch
		}
		if runCtx.Err() != nil {
			<-sem
			break dispatch
		}

		wg.Add(1)
		go func(t *fleet.Target) {
			defer wg.Done()
			defer func() { <-sem }()
			c.runTarget(runCtx, logger, req, t, emit)
		}(target)
	}
	wg.Wait()

	report.FinishedAt = c.now().UTC()
	report.Finalize()

	mu.Lock()
	err := auditErr
	mu.Unlock()

	switch {
	case err != nil:
		report.Aborted = true
	case ctx.Err() != nil:
		report.Aborted = true
		err = fmt.Errorf("run interrupted: %w", ctx.Err())
	}

	c.observer.RunFinished(report)
	logger.Info(ctx, "run finished",
		ports.F("unchanged", report.Summary.Unchanged),
		ports.F("would_change", report.Summary.WouldChange),
		ports.F("changed", report.Summary.Changed),
		ports.F("failed", report.Summary.Failed),
		ports.F("aborted", report.Aborted))
	return report, err
}

func (c *Coordinator) runTarget(ctx context.Context, logger ports.Logger, req RunRequest, target *fleet.Target, emit Emitter) {
	id := target.ID().String()
	log := logger.With(ports.Target(id))
	start := c.now()
	c.observer.TargetStarted(req.Mode, id)
	log.Debug(ctx, "target started")

	failed := false
	err := c.executor.Run(ctx, req.ReportID, req.Mode, req.ChangeSet, target, func(res RunResult) error {
		if res.Failed() {
			failed = true
			log.Warn(ctx, "operation failed", ports.Operation(res.OperationID), ports.F("code", string(res.ErrorCode)), ports.F(ports.KeyError, res.Error))
		}
		return emit(res)
	})

	elapsed := c.now().Sub(start)
	c.observer.TargetFinished(req.Mode, id, elapsed, failed || err != nil)
	switch {
	case err == nil:
		log.Debug(ctx, "target finished", ports.F("elapsed", elapsed.String()), ports.F("failed", failed))
	case errors.Is(err, ErrAuditWriteFailed), errors.Is(err, context.Canceled):
		log.Debug(ctx, "target stopped", ports.Err(err))
	default:
		log.Warn(ctx, "target stopped", ports.Err(err))
	}
}
