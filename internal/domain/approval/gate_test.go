package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) (*Gate, Decision) {
	t.Helper()
	gate := NewGate(NewMemoryStore(),
		WithGateClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }))
	d, err := gate.Open(context.Background(), OpenRequest{
		ReportID:    "r-1",
		ChangeSet:   "gpu-driver",
		Fingerprint: "fp-1",
		Targets:     []string{"host-b", "host-a"},
	})
	require.NoError(t, err)
	return gate, d
}

func TestGate_Open(t *testing.T) {
	t.Parallel()

	gate, d := newTestGate(t)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, []string{"host-a", "host-b"}, d.Targets)
	assert.Empty(t, d.Token)

	_, err := gate.Open(context.Background(), OpenRequest{ReportID: "r-1", Fingerprint: "fp-1"})
	assert.ErrorIs(t, err, ErrExists)

	_, err = gate.Open(context.Background(), OpenRequest{Fingerprint: "fp"})
	assert.Error(t, err)
	_, err = gate.Open(context.Background(), OpenRequest{ReportID: "r-2"})
	assert.Error(t, err)
}

func TestGate_Approve(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()

	_, err := gate.Approve(ctx, "r-1", "alice", "wrong")
	assert.ErrorIs(t, err, ErrFingerprintMismatch)

	d, err := gate.Approve(ctx, "r-1", "alice", "fp-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, d.Status)
	assert.Equal(t, "alice", d.Actor)
	assert.NotEmpty(t, d.Token)
	assert.False(t, d.DecidedAt.IsZero())

	_, err = gate.Reject(ctx, "r-1", "bob", "too late")
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	stored, err := gate.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)

	_, err = gate.Approve(ctx, "missing", "alice", "fp-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGate_RejectAndCancel(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	d, err := gate.Reject(context.Background(), "r-1", "bob", "driver not certified")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, d.Status)
	assert.Equal(t, ReasonRejected, d.Reason)
	assert.Equal(t, "driver not certified", d.Note)
	assert.Empty(t, d.Token)

	gate2, _ := newTestGate(t)
	d, err = gate2.Cancel(context.Background(), "r-1", "ci")
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, d.Reason)
}

func TestGate_OnResolve(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	var seen []Decision
	gate.OnResolve(func(_ context.Context, d Decision) error {
		seen = append(seen, d)
		return nil
	})

	_, err := gate.Approve(context.Background(), "r-1", "alice", "fp-1")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, StatusApproved, seen[0].Status)

	gate2, _ := newTestGate(t)
	boom := errors.New("audit down")
	gate2.OnResolve(func(context.Context, Decision) error { return boom })
	d, err := gate2.Reject(context.Background(), "r-1", "bob", "")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StatusRejected, d.Status)
}

func TestGate_AwaitApproved(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = gate.Approve(ctx, "r-1", "alice", "fp-1")
	}()

	d, err := gate.Await(ctx, "r-1", 0)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, d.Status)
}

func TestGate_AwaitRejected(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = gate.Reject(ctx, "r-1", "bob", "")
	}()

	d, err := gate.Await(ctx, "r-1", time.Minute)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StatusRejected, d.Status)
}

func TestGate_AwaitTimeoutResolvesRejected(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()

	d, err := gate.Await(ctx, "r-1", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StatusRejected, d.Status)
	assert.Equal(t, ReasonTimeout, d.Reason)

	stored, err := gate.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, ReasonTimeout, stored.Reason)

	_, err = gate.Approve(ctx, "r-1", "alice", "fp-1")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestGate_AwaitCancelledResolvesRejected(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	d, err := gate.Await(ctx, "r-1", 0)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ReasonCancelled, d.Reason)
}

func TestGate_AwaitAlreadyDecided(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()
	_, err := gate.Approve(ctx, "r-1", "alice", "fp-1")
	require.NoError(t, err)

	d, err := gate.Await(ctx, "r-1", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, d.Status)
}

func TestGate_SettleLosesRaceToApproval(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()
	_, err := gate.Approve(ctx, "r-1", "alice", "fp-1")
	require.NoError(t, err)

	d, err := gate.settle(ctx, "r-1", EventTimeout, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, d.Status)
}

func TestGate_Authorize(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()
	targets := []string{"host-a", "host-b"}

	pendingToken, err := NewToken("r-1")
	require.NoError(t, err)
	_, err = gate.Authorize(ctx, pendingToken, "fp-1", targets)
	assert.ErrorIs(t, err, ErrNotApproved)

	approved, err := gate.Approve(ctx, "r-1", "alice", "fp-1")
	require.NoError(t, err)

	d, err := gate.Authorize(ctx, approved.Token, "fp-1", []string{"host-b", "host-a"})
	require.NoError(t, err)
	assert.Equal(t, "r-1", d.ID)

	tests := []struct {
		name        string
		token       string
		fingerprint string
		targets     []string
		want        error
	}{
		{name: "forged token", token: pendingToken, fingerprint: "fp-1", targets: targets, want: ErrInvalidToken},
		{name: "malformed token", token: "r-1", fingerprint: "fp-1", targets: targets, want: ErrInvalidToken},
		{name: "unknown report", token: "r-9." + approved.Token[len("r-1."):], fingerprint: "fp-1", targets: targets, want: ErrInvalidToken},
		{name: "changed changeset", token: approved.Token, fingerprint: "fp-2", targets: targets, want: ErrFingerprintMismatch},
		{name: "widened targets", token: approved.Token, fingerprint: "fp-1", targets: append(targets, "host-c"), want: ErrTargetsMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := gate.Authorize(ctx, tt.token, tt.fingerprint, tt.targets)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGate_AuthorizeRejected(t *testing.T) {
	t.Parallel()

	gate, _ := newTestGate(t)
	ctx := context.Background()
	_, err := gate.Reject(ctx, "r-1", "bob", "")
	require.NoError(t, err)

	token, err := NewToken("r-1")
	require.NoError(t, err)
	_, err = gate.Authorize(ctx, token, "fp-1", []string{"host-a", "host-b"})
	assert.ErrorIs(t, err, ErrRejected)
}
