package rollout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
)

func TestNewController_Validation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing connector", cfg: Config{Log: h.log, Gate: h.gate}},
		{name: "missing log", cfg: Config{Connector: h.transport, Gate: h.gate}},
		{name: "missing gate", cfg: Config{Connector: h.transport, Log: h.log}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewController(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestController_DryRunThenApply(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.transport.SetFile("host-a", confPath, "v1")
	h.transport.SetFile("host-b", confPath, "v0")
	targets := newTargets(t, "host-b", "host-a")
	cs := confChangeSet(t)

	report, err := h.controller.RunDryRun(ctx, cs, targets)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, "host-a", report.Results[0].TargetID)
	assert.Equal(t, OutcomeUnchanged, report.Results[0].Outcome)
	assert.Equal(t, "host-b", report.Results[1].TargetID)
	assert.Equal(t, OutcomeWouldChange, report.Results[1].Outcome)
	require.NotNil(t, report.Results[1].Diff)
	assert.Equal(t, "v0", report.Results[1].Diff.Before)
	assert.True(t, report.HasChanges())
	assert.Empty(t, h.transport.Writes(), "dry-run must not mutate")

	dryRecords := h.recordsByMode(audit.ModeDryRun)
	require.Len(t, dryRecords, 2)
	for _, r := range dryRecords {
		assert.Equal(t, report.ID, r.ReportID)
		assert.Equal(t, cs.Fingerprint(), r.Fingerprint)
		assert.Equal(t, "ci", r.Actor)
	}

	decision, err := h.gate.Get(ctx, report.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, decision.Status)
	assert.Equal(t, []string{"host-a", "host-b"}, decision.Targets)

	token := h.approve(t, report)

	applied, err := h.controller.RunApply(ctx, cs, targets, token)
	require.NoError(t, err)
	assert.Equal(t, report.ID, applied.ID)
	assert.Equal(t, ModeApply, applied.Mode)
	require.Len(t, applied.Results, 2)
	assert.Equal(t, OutcomeUnchanged, applied.Results[0].Outcome)
	assert.Equal(t, OutcomeChanged, applied.Results[1].Outcome)

	content, ok := h.transport.File("host-b", confPath)
	require.True(t, ok)
	assert.Equal(t, "v1", content)

	assert.Len(t, h.recordsByMode(audit.ModeApply), 2)
	approvals := h.recordsByMode(audit.ModeApproval)
	require.Len(t, approvals, 1)
	assert.Equal(t, string(approval.StatusApproved), approvals[0].Outcome)
	assert.Equal(t, "alice", approvals[0].Actor)

	require.NoError(t, audit.VerifyChain(h.sink.Records()))
}

func TestController_EveryDryRunOpensFreshDecision(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	targets := newTargets(t, "host-a")
	cs := confChangeSet(t)

	first, err := h.controller.RunDryRun(ctx, cs, targets)
	require.NoError(t, err)
	second, err := h.controller.RunDryRun(ctx, cs, targets)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	d, err := h.gate.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, approval.StatusPending, d.Status)
}

func TestController_RejectedApplyWritesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	h.transport.SetFile("host-b", confPath, "v0")
	targets := newTargets(t, "host-b")
	cs := confChangeSet(t)

	report, err := h.controller.RunDryRun(ctx, cs, targets)
	require.NoError(t, err)
	_, err = h.gate.Reject(ctx, report.ID, "bob", "not now")
	require.NoError(t, err)

	forged, err := approval.NewToken(report.ID)
	require.NoError(t, err)

	applied, err := h.controller.RunApply(ctx, cs, targets, forged)
	require.Error(t, err)
	assert.Nil(t, applied)
	assert.ErrorIs(t, err, ErrApprovalRejected)
	assert.ErrorIs(t, err, approval.ErrRejected)
	assert.Equal(t, CodeApprovalRejected, CodeOf(err))

	assert.Empty(t, h.recordsByMode(audit.ModeApply))
	assert.Empty(t, h.transport.Writes())
	assert.Len(t, h.transport.Connects(), 1, "only the dry-run connected")
}

func TestController_ApplyRequiresMatchingChange(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	targets := newTargets(t, "host-a", "host-b")
	cs := confChangeSet(t)

	report, err := h.controller.RunDryRun(ctx, cs, targets)
	require.NoError(t, err)
	token := h.approve(t, report)

	t.Run("wider target set", func(t *testing.T) {
		_, err := h.controller.RunApply(ctx, cs, append(targets, newTarget(t, "host-c")), token)
		assert.ErrorIs(t, err, ErrApprovalRejected)
		assert.ErrorIs(t, err, approval.ErrTargetsMismatch)
	})

	t.Run("different change set", func(t *testing.T) {
		other := confChangeSet(t, restartOp(t))
		_, err := h.controller.RunApply(ctx, other, targets, token)
		assert.ErrorIs(t, err, approval.ErrFingerprintMismatch)
	})

	t.Run("pending decision", func(t *testing.T) {
		pending, err := h.controller.RunDryRun(ctx, cs, targets)
		require.NoError(t, err)
		guess, err := approval.NewToken(pending.ID)
		require.NoError(t, err)
		_, err = h.controller.RunApply(ctx, cs, targets, guess)
		assert.ErrorIs(t, err, approval.ErrNotApproved)
	})

	t.Run("garbage token", func(t *testing.T) {
		_, err := h.controller.RunApply(ctx, cs, targets, "yes")
		assert.ErrorIs(t, err, approval.ErrInvalidToken)
	})

	assert.Empty(t, h.recordsByMode(audit.ModeApply))
}

func TestController_FailureDoesNotBlockOtherTargets(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []fleet.TargetID{"host-a", "host-b", "host-c"} {
		h.transport.SetFile(id, confPath, "v0")
	}
	h.seedRestart("host-a", "host-b", "host-c")
	h.transport.FailWrites("host-b", errors.New("read-only file system"))

	targets := newTargets(t, "host-a", "host-b", "host-c")
	cs := confChangeSet(t, restartOp(t))

	report, err := h.controller.RunDryRun(ctx, cs, targets)
	require.NoError(t, err)
	token := h.approve(t, report)

	applied, err := h.controller.RunApply(ctx, cs, targets, token)
	require.NoError(t, err, "partial fleet failure is reported, not fatal")

	assert.Len(t, applied.ResultsFor("host-a"), 2)
	assert.Len(t, applied.ResultsFor("host-c"), 2)

	hostB := applied.ResultsFor("host-b")
	require.Len(t, hostB, 1, "remaining operations on a failed target are not attempted")
	assert.Equal(t, OutcomeFailed, hostB[0].Outcome)
	assert.Equal(t, CodeOperationFailed, hostB[0].ErrorCode)
	assert.Contains(t, hostB[0].Error, "read-only file system")
	assert.ErrorIs(t, hostB[0].Err, ErrOperationFailed)

	assert.Equal(t, 1, applied.Summary.FailedTargets)
	assert.Equal(t, 4, applied.Summary.Changed)
	assert.True(t, applied.Failed())

	applyRecords := h.recordsByMode(audit.ModeApply)
	assert.Len(t, applyRecords, 5, "one record per attempted pair")
	for _, r := range applyRecords {
		if r.TargetID == "host-b" {
			assert.Equal(t, string(CodeOperationFailed), r.ErrorCode)
		}
	}
}

func TestController_ConnectionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.transport.FailConnect("host-b", errors.New("dial tcp: connection refused"))
	targets := newTargets(t, "host-a", "host-b")
	cs := confChangeSet(t, restartOp(t))

	report, err := h.controller.RunDryRun(context.Background(), cs, targets)
	require.NoError(t, err)

	hostB := report.ResultsFor("host-b")
	require.Len(t, hostB, 1)
	assert.Equal(t, "app-conf", hostB[0].OperationID)
	assert.Equal(t, CodeConnection, hostB[0].ErrorCode)
	assert.ErrorIs(t, hostB[0].Err, ErrConnection)

	var re *Error
	require.ErrorAs(t, hostB[0].Err, &re)
	assert.Equal(t, "host-b", re.Target)
	assert.Equal(t, "app-conf", re.Operation)

	assert.Len(t, report.ResultsFor("host-a"), 2)
}

func TestController_AuditFailureAbortsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *Config) { c.MaxParallel = 1 })
	h.sink.FailWith(2, errors.New("disk full"))
	targets := newTargets(t, "host-a", "host-b", "host-c", "host-d")

	report, err := h.controller.RunDryRun(context.Background(), confChangeSet(t), targets)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuditWriteFailed)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, report)
	assert.True(t, report.Aborted)
	assert.Len(t, report.Results, 1, "only stored results are reported")

	assert.Less(t, len(h.transport.Connects()), len(targets))

	_, err = h.gate.Get(context.Background(), report.ID)
	assert.ErrorIs(t, err, approval.ErrNotFound, "no decision for an aborted dry-run")
}

func TestController_OnAudit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var seen []audit.Record
	h.controller.OnAudit(func(r audit.Record) { seen = append(seen, r) })

	_, err := h.controller.RunDryRun(context.Background(), confChangeSet(t), newTargets(t, "host-a"))
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, "host-a", seen[0].TargetID)
	assert.NotEmpty(t, seen[0].Hash)
}

func TestController_AwaitApproval(t *testing.T) {
	t.Parallel()

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		report, err := h.controller.RunDryRun(ctx, confChangeSet(t), newTargets(t, "host-a"))
		require.NoError(t, err)

		d, err := h.controller.AwaitApproval(ctx, report.ID, 20*time.Millisecond)
		assert.ErrorIs(t, err, ErrApprovalTimeout)
		assert.Equal(t, approval.ReasonTimeout, d.Reason)

		approvals := h.recordsByMode(audit.ModeApproval)
		require.Len(t, approvals, 1)
		assert.Equal(t, "rejected", approvals[0].Outcome)
		assert.Equal(t, "timeout", approvals[0].Error)
		assert.Equal(t, "ci", approvals[0].Actor)

		token, err := approval.NewToken(report.ID)
		require.NoError(t, err)
		_, err = h.controller.RunApply(ctx, confChangeSet(t), newTargets(t, "host-a"), token)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrApprovalRejected)
		assert.NotErrorIs(t, err, ErrApprovalTimeout)
		assert.ErrorIs(t, err, approval.ErrTimeout)
		assert.Empty(t, h.recordsByMode(audit.ModeApply))
	})

	t.Run("approved", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		report, err := h.controller.RunDryRun(ctx, confChangeSet(t), newTargets(t, "host-a"))
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = h.gate.Approve(ctx, report.ID, "alice", report.Fingerprint)
		}()

		d, err := h.controller.AwaitApproval(ctx, report.ID, time.Minute)
		require.NoError(t, err)
		assert.NotEmpty(t, d.Token)
	})

	t.Run("rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()
		report, err := h.controller.RunDryRun(ctx, confChangeSet(t), newTargets(t, "host-a"))
		require.NoError(t, err)
		_, err = h.gate.Reject(ctx, report.ID, "bob", "")
		require.NoError(t, err)

		_, err = h.controller.AwaitApproval(ctx, report.ID, 0)
		assert.ErrorIs(t, err, ErrApprovalRejected)
	})
}

func TestController_InvalidRuns(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	cs := confChangeSet(t)

	_, err := h.controller.RunDryRun(ctx, cs, nil)
	assert.Error(t, err)

	_, err = h.controller.RunDryRun(ctx, nil, newTargets(t, "host-a"))
	assert.Error(t, err)

	_, err = h.controller.RunDryRun(ctx, cs, newTargets(t, "host-a", "host-a"))
	assert.Error(t, err)
}
