package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
)

var (
	applyReportID      string
	applyToken         string
	applyShowUnchanged bool
	applyNoDiff        bool
	applyJSON          bool
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply an approved report",
	Long: `Apply re-loads the change set and target subset saved by 'rollgate plan'
and applies it, provided the token belongs to an approval of exactly that
change set and those targets.

Without a valid token no target is touched.`,
	Example: `  rollgate apply --report 20260301-120000-4f2a9c1d --token <token>`,
	RunE:    runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)

	applyCmd.Flags().StringVar(&applyReportID, "report", "", "report ID printed by plan")
	applyCmd.Flags().StringVar(&applyToken, "token", "", "approval token printed by approve")
	_ = applyCmd.MarkFlagRequired("report")
	_ = applyCmd.MarkFlagRequired("token")
	addReportFlags(applyCmd, &applyShowUnchanged, &applyNoDiff, &applyJSON)
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	plan, err := loadPlan(rt.settings.ReportDir(), applyReportID)
	if err != nil {
		return err
	}
	in, err := loadInputs(plan.ChangeSetPath, plan.InventoryPath, plan.Selector)
	if err != nil {
		return err
	}

	report, err := rt.controller.RunApply(ctx, in.changeSet, in.targets, applyToken)
	if report != nil {
		if perr := printReport(cmd.OutOrStdout(), report, applyJSON, reportOptions(applyShowUnchanged, applyNoDiff)); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		return applyError(err)
	}
	return applyOutcome(report)
}

// applyOutcome turns failed operations into a non-zero exit.
func applyOutcome(report *rollout.Report) error {
	if report.Failed() {
		return fmt.Errorf("apply finished with %d failed operations on %d targets", report.Summary.Failed, report.Summary.FailedTargets)
	}
	return nil
}

func applyError(err error) error {
	switch {
	case errors.Is(err, approval.ErrFingerprintMismatch):
		return config.NewUserError(config.ErrCodeValidationFailed, "the change set differs from the approved one").
			WithSuggestion("The change set file was edited after planning. Run `rollgate plan` again and get a new approval.").
			WithUnderlying(err)
	case errors.Is(err, approval.ErrTargetsMismatch):
		return config.NewUserError(config.ErrCodeValidationFailed, "the selected targets differ from the approved ones").
			WithSuggestion("The inventory changed after planning. Run `rollgate plan` again and get a new approval.").
			WithUnderlying(err)
	default:
		return err
	}
}
