package main

import (
	"errors"

	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
)

// decisionError turns approval failures into user errors with a hint.
func decisionError(err error) error {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		return config.NewUserError(config.ErrCodeReportNotFound, "no approval exists for this report").
			WithSuggestion("Check the report ID printed by `rollgate plan`. Pending approvals may also have expired.").
			WithUnderlying(err)
	case errors.Is(err, approval.ErrAlreadyDecided):
		return config.NewUserError(config.ErrCodeValidationFailed, "the report was already decided").
			WithSuggestion("Run `rollgate status <report-id>` to see the decision, or plan again.").
			WithUnderlying(err)
	case errors.Is(err, approval.ErrFingerprintMismatch):
		return config.NewUserError(config.ErrCodeValidationFailed, "fingerprint does not match the dry-run report").
			WithSuggestion("Copy the full fingerprint from the `rollgate plan` output.").
			WithUnderlying(err)
	default:
		return err
	}
}
