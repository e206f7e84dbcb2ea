package audit

import (
	"fmt"
)

// ChainError reports the first broken link in a record sequence.
type ChainError struct {
	Sequence int64
	RecordID string
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at seq %d (record %s): %s", e.Sequence, e.RecordID, e.Reason)
}

// VerifyChain checks that records, in sequence order, each carry a valid
// hash and link to their predecessor. The first record anchors the chain,
// so a tail of a rotated log verifies too.
func VerifyChain(records []Record) error {
	for i, r := range records {
		if !r.VerifyHash() {
			return &ChainError{Sequence: r.Sequence, RecordID: r.ID, Reason: "hash does not match content"}
		}
		if i == 0 {
			continue
		}
		prev := records[i-1]
		if r.Sequence != prev.Sequence+1 {
			return &ChainError{Sequence: r.Sequence, RecordID: r.ID, Reason: fmt.Sprintf("expected seq %d", prev.Sequence+1)}
		}
		if r.PreviousHash != prev.Hash {
			return &ChainError{Sequence: r.Sequence, RecordID: r.ID, Reason: "previous hash does not match"}
		}
	}
	return nil
}
