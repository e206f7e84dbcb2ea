// Package audit provides the append-only, hash-chained audit log of rollout
// outcomes.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// Modes recorded in the log.
const (
	ModeDryRun   = "dry-run"
	ModeApply    = "apply"
	ModeApproval = "approval"
)

// Record is one immutable audit entry: the outcome of one operation on one
// target, or an approval decision when Mode is ModeApproval.
type Record struct {
	// ID is the unique record identifier.
	ID string `json:"id"`

	// Sequence is the position in the hash chain, starting at 1.
	Sequence int64 `json:"seq"`

	// Timestamp when the record was appended.
	Timestamp time.Time `json:"timestamp"`

	// ReportID ties the record to a dry-run report.
	ReportID string `json:"report_id"`

	// Mode is dry-run, apply or approval.
	Mode string `json:"mode"`

	// ChangeSet is the change set name.
	ChangeSet string `json:"changeset,omitempty"`

	// Fingerprint is the change set fingerprint.
	Fingerprint string `json:"fingerprint,omitempty"`

	TargetID    string `json:"target_id"`
	OperationID string `json:"operation_id,omitempty"`
	Kind        string `json:"kind,omitempty"`

	// Outcome is unchanged, would-change, changed or failed; for approval
	// records it is the decision status.
	Outcome string `json:"outcome"`

	Diff      string `json:"diff,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`

	// Actor who triggered the run or decided the approval.
	Actor string `json:"actor,omitempty"`

	// PreviousHash is the hash of the preceding record.
	PreviousHash string `json:"previous_hash,omitempty"`

	// Hash is the sha256 of this record with Hash left empty.
	Hash string `json:"hash,omitempty"`
}

// Validate checks that the caller supplied the required fields.
func (r Record) Validate() error {
	if r.ReportID == "" {
		return errors.New("record report ID is required")
	}
	if r.Mode == "" {
		return errors.New("record mode is required")
	}
	if r.TargetID == "" && r.Mode != ModeApproval {
		return errors.New("record target ID is required")
	}
	if r.Outcome == "" {
		return errors.New("record outcome is required")
	}
	return nil
}

// ComputeHash calculates the sha256 over every field except Hash.
func (r Record) ComputeHash() string {
	r.Hash = ""
	r.Timestamp = r.Timestamp.UTC()
	data, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash reports whether the stored hash matches the content.
func (r Record) VerifyHash() bool {
	return r.Hash != "" && r.Hash == r.ComputeHash()
}
