package audit

import (
	"time"
)

// QueryFilter defines criteria for filtering audit records.
type QueryFilter struct {
	// ReportID filters by report.
	ReportID string

	// Mode filters by dry-run, apply or approval (empty = all).
	Mode string

	// TargetID filters by target.
	TargetID string

	// Outcomes filters by outcome (empty = all).
	Outcomes []string

	// Since filters records at or after this time.
	Since time.Time

	// Until filters records before this time.
	Until time.Time

	// Limit keeps only the most recent matches (0 = no limit).
	Limit int
}

// Matches returns true if the record matches the filter.
func (f QueryFilter) Matches(r Record) bool {
	if f.ReportID != "" && r.ReportID != f.ReportID {
		return false
	}
	if f.Mode != "" && r.Mode != f.Mode {
		return false
	}
	if f.TargetID != "" && r.TargetID != f.TargetID {
		return false
	}
	if len(f.Outcomes) > 0 {
		found := false
		for _, o := range f.Outcomes {
			if r.Outcome == o {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Apply filters records in order and applies the limit.
func (f QueryFilter) Apply(records []Record) []Record {
	var result []Record
	for _, r := range records {
		if f.Matches(r) {
			result = append(result, r)
		}
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[len(result)-f.Limit:]
	}
	return result
}
