package approval

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// OpenRequest describes the dry-run report a decision is opened for.
type OpenRequest struct {
	ReportID    string
	ChangeSet   string
	Fingerprint string
	Targets     []string
}

// Gate drives decisions through their lifecycle on top of a Store.
type Gate struct {
	store     Store
	now       func() time.Time
	newToken  func(id string) (string, error)
	listeners []func(context.Context, Decision) error
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithGateClock overrides the time source.
func WithGateClock(now func() time.Time) GateOption {
	return func(g *Gate) {
		g.now = now
	}
}

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(fn func(id string) (string, error)) GateOption {
	return func(g *Gate) {
		g.newToken = fn
	}
}

// NewGate creates a gate over store.
func NewGate(store Store, opts ...GateOption) *Gate {
	g := &Gate{
		store:    store,
		now:      time.Now,
		newToken: NewToken,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Store returns the underlying store.
func (g *Gate) Store() Store {
	return g.store
}

// OnResolve registers fn to run after a decision is stored as terminal.
// An error from fn is returned to the resolving caller; the decision
// itself stands.
func (g *Gate) OnResolve(fn func(context.Context, Decision) error) {
	g.listeners = append(g.listeners, fn)
}

// Open creates the pending decision for a report.
func (g *Gate) Open(ctx context.Context, req OpenRequest) (Decision, error) {
	if req.ReportID == "" {
		return Decision{}, errors.New("report ID is required")
	}
	if req.Fingerprint == "" {
		return Decision{}, errors.New("fingerprint is required")
	}
	d := Decision{
		ID:          req.ReportID,
		ChangeSet:   req.ChangeSet,
		Fingerprint: req.Fingerprint,
		Targets:     sortedCopy(req.Targets),
		Status:      StatusPending,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.store.Create(ctx, d); err != nil {
		return Decision{}, fmt.Errorf("failed to open decision %s: %w", req.ReportID, err)
	}
	return d, nil
}

// Get returns the decision for a report.
func (g *Gate) Get(ctx context.Context, id string) (Decision, error) {
	return g.store.Get(ctx, id)
}

// Approve approves a pending decision. The caller must name the
// fingerprint shown in the report.
func (g *Gate) Approve(ctx context.Context, id, actor, fingerprint string) (Decision, error) {
	current, err := g.store.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	if current.Fingerprint != fingerprint {
		return Decision{}, ErrFingerprintMismatch
	}
	return g.resolve(ctx, current, EventApprove, actor, "")
}

// Reject rejects a pending decision.
func (g *Gate) Reject(ctx context.Context, id, actor, note string) (Decision, error) {
	current, err := g.store.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	return g.resolve(ctx, current, EventReject, actor, note)
}

// Cancel withdraws a pending decision.
func (g *Gate) Cancel(ctx context.Context, id, actor string) (Decision, error) {
	current, err := g.store.Get(ctx, id)
	if err != nil {
		return Decision{}, err
	}
	return g.resolve(ctx, current, EventCancel, actor, "")
}

func (g *Gate) resolve(ctx context.Context, current Decision, event, actor, note string) (Decision, error) {
	if current.Decided() {
		return current, ErrAlreadyDecided
	}
	status, err := Transition(current.Status, event)
	if err != nil {
		return current, err
	}

	d := current
	d.Status = status
	d.Actor = actor
	d.Note = note
	d.Reason = reasonFor(event)
	d.DecidedAt = g.now().UTC()
	if status == StatusApproved {
		d.Reason = ""
		if d.Token, err = g.newToken(d.ID); err != nil {
			return current, err
		}
	}

	if err := g.store.Resolve(ctx, d); err != nil {
		return current, err
	}
	for _, fn := range g.listeners {
		if err := fn(ctx, d); err != nil {
			return d, err
		}
	}
	return d, nil
}

// Await blocks until the decision is resolved, timeout elapses or ctx ends.
// A zero timeout waits indefinitely. Timeout and cancellation resolve the
// decision to rejected. The returned error is nil only for an approval.
func (g *Gate) Await(ctx context.Context, id string, timeout time.Duration) (Decision, error) {
	watchCtx, stop := context.WithCancel(ctx)
	defer stop()

	ch, err := g.store.Watch(watchCtx, id)
	if err != nil {
		return Decision{}, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case d, ok := <-ch:
		if !ok {
			return g.settle(ctx, id, EventCancel, ctx.Err())
		}
		return d, outcomeErr(d)
	case <-expired:
		return g.settle(ctx, id, EventTimeout, nil)
	case <-ctx.Done():
		return g.settle(ctx, id, EventCancel, ctx.Err())
	}
}

// settle resolves an unresolved decision after a timeout or cancellation.
// When another signal won the race, that decision is returned instead.
func (g *Gate) settle(ctx context.Context, id, event string, cause error) (Decision, error) {
	// ctx may already be done; the resolution itself must still be written.
	writeCtx := context.WithoutCancel(ctx)

	current, err := g.store.Get(writeCtx, id)
	if err != nil {
		return Decision{}, err
	}
	if !current.Decided() {
		d, err := g.resolve(writeCtx, current, event, "", "")
		switch {
		case err == nil:
			current = d
		case errors.Is(err, ErrAlreadyDecided):
			if current, err = g.store.Get(writeCtx, id); err != nil {
				return Decision{}, err
			}
		default:
			return d, err
		}
	}

	if current.Status == StatusRejected && cause != nil && current.Reason == ReasonCancelled {
		return current, fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
	return current, outcomeErr(current)
}

func outcomeErr(d Decision) error {
	switch {
	case d.Status == StatusApproved:
		return nil
	case d.Status == StatusRejected && d.Reason == ReasonTimeout:
		return ErrTimeout
	case d.Status == StatusRejected && d.Reason == ReasonCancelled:
		return ErrCancelled
	case d.Status == StatusRejected:
		return ErrRejected
	default:
		return ErrNotApproved
	}
}

// Authorize checks that token was issued for an approved decision covering
// exactly this fingerprint and target set.
func (g *Gate) Authorize(ctx context.Context, token, fingerprint string, targets []string) (Decision, error) {
	id, err := TokenDecisionID(token)
	if err != nil {
		return Decision{}, err
	}
	d, err := g.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Decision{}, ErrInvalidToken
	}
	if err != nil {
		return Decision{}, err
	}
	if d.Status != StatusApproved {
		if err := outcomeErr(d); err != nil {
			return d, err
		}
	}
	if !tokensEqual(d.Token, token) {
		return d, ErrInvalidToken
	}
	if err := d.Covers(fingerprint, targets); err != nil {
		return d, err
	}
	return d, nil
}
