package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/tui"
)

var (
	approveFingerprint string
	rejectReason       string
)

var approveCmd = &cobra.Command{
	Use:   "approve <report-id>",
	Short: "Approve a dry-run report",
	Long: `Approve marks a pending report as approved and prints the token that
'rollgate apply' needs.

The fingerprint must match the change set that was dry-run, so an approval
can never be used for a different change.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

var rejectCmd = &cobra.Command{
	Use:   "reject <report-id>",
	Short: "Reject a dry-run report",
	Args:  cobra.ExactArgs(1),
	RunE:  runReject,
}

var statusCmd = &cobra.Command{
	Use:   "status <report-id>",
	Short: "Show the approval state of a report",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
	rootCmd.AddCommand(statusCmd)

	approveCmd.Flags().StringVar(&approveFingerprint, "fingerprint", "", "fingerprint of the change set shown by plan")
	_ = approveCmd.MarkFlagRequired("fingerprint")
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "why the report was rejected")
}

func runApprove(cmd *cobra.Command, args []string) error {
	return withDecision(cmd, func(ctx context.Context, rt *runtime) (approval.Decision, error) {
		return rt.gate.Approve(ctx, args[0], rt.settings.Actor, approveFingerprint)
	})
}

func runReject(cmd *cobra.Command, args []string) error {
	return withDecision(cmd, func(ctx context.Context, rt *runtime) (approval.Decision, error) {
		return rt.gate.Reject(ctx, args[0], rt.settings.Actor, rejectReason)
	})
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withDecision(cmd, func(ctx context.Context, rt *runtime) (approval.Decision, error) {
		return rt.gate.Get(ctx, args[0])
	})
}

func withDecision(cmd *cobra.Command, fn func(context.Context, *runtime) (approval.Decision, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	d, err := fn(ctx, rt)
	if err != nil {
		return decisionError(err)
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), tui.RenderDecision(d, tui.DefaultStyles()))
	return err
}
