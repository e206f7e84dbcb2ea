package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
	"github.com/felixgeelhaar/rollgate/internal/ports"
	"github.com/felixgeelhaar/rollgate/internal/tui"
)

var (
	rolloutChangeSet       string
	rolloutInventory       string
	rolloutTargets         string
	rolloutWait            bool
	rolloutApprovalTimeout time.Duration
	rolloutShowUnchanged   bool
	rolloutNoDiff          bool
	rolloutJSON            bool
)

// stdinIsTerminal decides between the interactive prompt and waiting for
// an external decision.
var stdinIsTerminal = func() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// runApprovalPrompt is replaced in tests.
var runApprovalPrompt = tui.RunApprovalPrompt

var rolloutCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Dry-run, wait for approval, then apply",
	Long: `Rollout runs the whole gated flow in one process.

The dry-run report is shown and the rollout stops at the approval gate:
  - on a terminal, an interactive prompt asks to approve or reject
  - with --wait, or without a terminal, it waits for 'rollgate approve'
    or 'rollgate reject' from another shell or CI job
  - with --yes, the current actor approves immediately

Once approved, the exact change set and targets that were checked are
applied. A rejection or an expired --approval-timeout applies nothing.`,
	Example: `  rollgate rollout -c app-config.yaml -i hosts.ini -t @ai_worker
  rollgate rollout -c app-config.yaml -i hosts.ini -t @ai_worker --wait --approval-timeout 30m`,
	RunE: runRollout,
}

func init() {
	rootCmd.AddCommand(rolloutCmd)

	addRunInputFlags(rolloutCmd, &rolloutChangeSet, &rolloutInventory, &rolloutTargets)
	addReportFlags(rolloutCmd, &rolloutShowUnchanged, &rolloutNoDiff, &rolloutJSON)
	rolloutCmd.Flags().BoolVar(&rolloutWait, "wait", false, "wait for an external decision instead of prompting")
	rolloutCmd.Flags().DurationVar(&rolloutApprovalTimeout, "approval-timeout", 0, "reject the rollout when no decision arrives in time (0 waits forever)")
}

func runRollout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	opts := reportOptions(rolloutShowUnchanged, rolloutNoDiff)

	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	timeout := rt.settings.ApprovalTimeout
	if cmd.Flags().Changed("approval-timeout") {
		timeout = rolloutApprovalTimeout
	}

	in, report, err := planRollout(ctx, rt, rolloutChangeSet, rolloutInventory, rolloutTargets)
	if report != nil && !rolloutJSON {
		if perr := printReport(out, report, false, opts); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		return err
	}

	if !report.HasChanges() && !report.Failed() {
		if _, err := rt.gate.Cancel(ctx, report.ID, rt.settings.Actor); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "\nEverything is up to date. Nothing to apply.")
		return nil
	}

	decision, err := awaitDecision(ctx, cmd, rt, report, timeout)
	if !rolloutJSON && decision.ID != "" {
		_, _ = fmt.Fprint(out, "\n"+tui.RenderDecision(decision, tui.DefaultStyles())+"\n")
	}
	if err != nil {
		return err
	}

	// The decision may have been recorded by another process.
	if err := rt.log.Resume(ctx); err != nil {
		return err
	}

	applied, err := rt.controller.RunApply(ctx, in.changeSet, in.targets, decision.Token)
	if applied != nil {
		if perr := printReport(out, applied, rolloutJSON, opts); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		return applyError(err)
	}
	return applyOutcome(applied)
}

type awaitResult struct {
	decision approval.Decision
	err      error
}

// awaitDecision blocks at the approval gate until the report is decided.
func awaitDecision(ctx context.Context, cmd *cobra.Command, rt *runtime, report *rollout.Report, timeout time.Duration) (approval.Decision, error) {
	if yesFlag {
		d, err := rt.gate.Approve(ctx, report.ID, rt.settings.Actor, report.Fingerprint)
		if err != nil {
			return d, decisionError(err)
		}
		rt.logger.Info(ctx, "approved with --yes", ports.Report(report.ID), ports.F("actor", rt.settings.Actor))
		return d, nil
	}

	if rolloutWait || rolloutJSON || !stdinIsTerminal() {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "\nWaiting for approval. From another shell run:\n  rollgate approve %s --fingerprint %s\n", report.ID, report.Fingerprint)
		return rt.controller.AwaitApproval(ctx, report.ID, timeout)
	}
	return promptDecision(ctx, cmd.OutOrStdout(), rt, report, timeout)
}

// promptDecision shows the interactive prompt while also watching for a
// decision made elsewhere. Whichever resolves the report first wins.
func promptDecision(ctx context.Context, out io.Writer, rt *runtime, report *rollout.Report, timeout time.Duration) (approval.Decision, error) {
	awaitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan awaitResult, 1)
	resolved := make(chan approval.Decision, 1)
	go func() {
		d, err := rt.controller.AwaitApproval(awaitCtx, report.ID, timeout)
		done <- awaitResult{decision: d, err: err}
		if d.Decided() {
			resolved <- d
		}
		close(resolved)
	}()

	opts := tui.ApprovalOptions{Resolved: resolved}
	if timeout > 0 {
		opts.Deadline = time.Now().Add(timeout)
	}
	choice, err := runApprovalPrompt(ctx, report, opts, tea.WithOutput(out))
	if err != nil {
		return approval.Decision{}, err
	}

	actor := rt.settings.Actor
	switch {
	case choice.Approved:
		_, err = rt.gate.Approve(ctx, report.ID, actor, report.Fingerprint)
	case choice.Rejected:
		_, err = rt.gate.Reject(ctx, report.ID, actor, "rejected at the prompt")
	case choice.Cancelled:
		_, err = rt.gate.Cancel(ctx, report.ID, actor)
	}
	if err != nil && !errors.Is(err, approval.ErrAlreadyDecided) {
		return approval.Decision{}, decisionError(err)
	}

	res := <-done
	return res.decision, res.err
}
