// Package approval implements the gate between a dry-run and its apply.
//
// A Decision is opened as pending for every dry-run report and is resolved
// exactly once to approved or rejected by an explicit signal naming that
// report. Timeouts and cancellation resolve to rejected with a reason.
// Apply authorises with the token issued on approval, which binds the
// decision to the change set fingerprint and the target subset it was
// shown for.
package approval

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Status is the state of a decision.
type Status string

// Decision statuses.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Reasons attached to rejected decisions.
const (
	ReasonRejected  = "rejected"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// Errors returned by the gate and its stores.
var (
	ErrNotFound            = errors.New("decision not found")
	ErrExists              = errors.New("decision already exists")
	ErrAlreadyDecided      = errors.New("decision already decided")
	ErrInvalidTransition   = errors.New("invalid decision transition")
	ErrFingerprintMismatch = errors.New("fingerprint does not match the report")
	ErrTargetsMismatch     = errors.New("target set does not match the report")
	ErrInvalidToken        = errors.New("invalid approval token")
	ErrNotApproved         = errors.New("decision is not approved")
	ErrRejected            = errors.New("approval rejected")
	ErrTimeout             = errors.New("approval timed out")
	ErrCancelled           = errors.New("approval cancelled")
)

// Decision is the approval record for one dry-run report.
type Decision struct {
	// ID equals the dry-run report ID.
	ID          string    `json:"id" yaml:"id"`
	ChangeSet   string    `json:"changeset" yaml:"changeset"`
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	Targets     []string  `json:"targets" yaml:"targets"`
	Status      Status    `json:"status" yaml:"status"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`

	// Actor who resolved the decision.
	Actor string `json:"actor,omitempty" yaml:"actor,omitempty"`
	// Reason is set on rejected decisions.
	Reason    string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Note      string    `json:"note,omitempty" yaml:"note,omitempty"`
	DecidedAt time.Time `json:"decided_at,omitempty" yaml:"decided_at,omitempty"`

	// Token is issued on approval and presented by apply.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// Decided reports whether the decision has left pending.
func (d Decision) Decided() bool {
	return d.Status.Terminal()
}

// Covers reports whether the decision was opened for exactly this
// fingerprint and target set. Target order is ignored.
func (d Decision) Covers(fingerprint string, targets []string) error {
	if d.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !sameSet(d.Targets, targets) {
		return ErrTargetsMismatch
	}
	return nil
}

func (d Decision) String() string {
	switch {
	case d.Status == StatusRejected && d.Reason != "":
		return fmt.Sprintf("%s %s (%s)", d.ID, d.Status, d.Reason)
	default:
		return fmt.Sprintf("%s %s", d.ID, d.Status)
	}
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := sortedCopy(a)
	y := sortedCopy(b)
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func sortedCopy(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}

// NewToken issues a token bound to the decision ID: "<id>.<64 hex chars>".
func NewToken(id string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return id + "." + hex.EncodeToString(buf), nil
}

// TokenDecisionID extracts the decision ID a token was issued for.
func TokenDecisionID(token string) (string, error) {
	i := strings.LastIndexByte(token, '.')
	if i <= 0 || len(token)-i-1 != 64 {
		return "", ErrInvalidToken
	}
	if _, err := hex.DecodeString(token[i+1:]); err != nil {
		return "", ErrInvalidToken
	}
	return token[:i], nil
}

func tokensEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
