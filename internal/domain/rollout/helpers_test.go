package rollout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
	"github.com/felixgeelhaar/rollgate/internal/domain/changeset"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/transport"
	"github.com/felixgeelhaar/rollgate/internal/testutil/mocks"
)

const confPath = "/etc/app.conf"

type harness struct {
	transport  *mocks.Transport
	sink       *audit.MemorySink
	log        *audit.Log
	gate       *approval.Gate
	controller *Controller
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	h := &harness{
		transport: mocks.NewTransport("ssh"),
		sink:      audit.NewMemorySink(),
	}
	h.log = audit.NewLog(h.sink)
	h.gate = approval.NewGate(approval.NewMemoryStore())

	cfg := Config{
		Connector:   h.transport,
		Log:         h.log,
		Gate:        h.gate,
		MaxParallel: 4,
		Actor:       "ci",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewController(cfg)
	require.NoError(t, err)
	h.controller = c
	return h
}

func newTarget(t *testing.T, id string) *fleet.Target {
	t.Helper()
	target, err := fleet.NewTargetBuilder(fleet.TargetID(id)).Group("ai_worker").Build(fleet.ConnParams{})
	require.NoError(t, err)
	return target
}

func newTargets(t *testing.T, ids ...string) []*fleet.Target {
	t.Helper()
	targets := make([]*fleet.Target, len(ids))
	for i, id := range ids {
		targets[i] = newTarget(t, id)
	}
	return targets
}

func confChangeSet(t *testing.T, extra ...changeset.Operation) *changeset.ChangeSet {
	t.Helper()
	conf, err := changeset.NewFileOperation("app-conf", confPath, "v1", 0o644)
	require.NoError(t, err)
	ops := append([]changeset.Operation{conf}, extra...)
	cs, err := changeset.New("app-config", ops...)
	require.NoError(t, err)
	return cs
}

func restartOp(t *testing.T) *changeset.CommandOperation {
	t.Helper()
	op, err := changeset.NewCommandOperation("restart", "systemctl restart app", "")
	require.NoError(t, err)
	return op
}

func (h *harness) seedRestart(targets ...string) {
	for _, id := range targets {
		h.transport.SetCommandResult(fleet.TargetID(id), "systemctl restart app", transport.CommandResult{ExitCode: 0})
	}
}

func (h *harness) recordsByMode(mode string) []audit.Record {
	var out []audit.Record
	for _, r := range h.sink.Records() {
		if r.Mode == mode {
			out = append(out, r)
		}
	}
	return out
}

func (h *harness) approve(t *testing.T, report *Report) string {
	t.Helper()
	d, err := h.gate.Approve(context.Background(), report.ID, "alice", report.Fingerprint)
	require.NoError(t, err)
	return d.Token
}
