package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
	"github.com/felixgeelhaar/rollgate/internal/ports"
	"github.com/felixgeelhaar/rollgate/internal/tui"
)

var (
	planChangeSet     string
	planInventory     string
	planTargets       string
	planShowUnchanged bool
	planNoDiff        bool
	planJSON          bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Dry-run a change set and open an approval",
	Long: `Plan checks every operation of a change set on the selected targets
without changing anything.

This command:
1. Loads the change set and the inventory
2. Connects to every selected target and computes the diff
3. Records every result in the audit log
4. Saves the report and opens a pending approval for it

Approve the report with 'rollgate approve', then run 'rollgate apply'.`,
	Example: `  rollgate plan -c app-config.yaml -i hosts.ini -t @ai_worker`,
	RunE:    runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	addRunInputFlags(planCmd, &planChangeSet, &planInventory, &planTargets)
	addReportFlags(planCmd, &planShowUnchanged, &planNoDiff, &planJSON)
}

func addRunInputFlags(cmd *cobra.Command, changeSet, inventory, targets *string) {
	cmd.Flags().StringVarP(changeSet, "changeset", "c", "", "change set file")
	cmd.Flags().StringVarP(inventory, "inventory", "i", "", "inventory file (YAML or INI)")
	cmd.Flags().StringVarP(targets, "targets", "t", "", "target expression, e.g. @web,!tag:canary")
	_ = cmd.MarkFlagRequired("changeset")
	_ = cmd.MarkFlagRequired("targets")
}

func addReportFlags(cmd *cobra.Command, showUnchanged, noDiff, jsonOut *bool) {
	cmd.Flags().BoolVar(showUnchanged, "show-unchanged", false, "list operations that need no change")
	cmd.Flags().BoolVar(noDiff, "no-diff", false, "hide file diffs")
	cmd.Flags().BoolVar(jsonOut, "json", false, "print the report as JSON")
}

func runPlan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	rt, err := newRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	_, report, err := planRollout(ctx, rt, planChangeSet, planInventory, planTargets)
	if report != nil {
		if perr := printReport(cmd.OutOrStdout(), report, planJSON, reportOptions(planShowUnchanged, planNoDiff)); perr != nil && err == nil {
			err = perr
		}
	}
	if err != nil {
		return err
	}

	if !planJSON {
		printNextSteps(cmd.OutOrStdout(), report)
	}
	return nil
}

// planRollout runs the dry-run and saves the report for a later apply.
func planRollout(ctx context.Context, rt *runtime, changeSetPath, inventoryFlag, selector string) (*runInputs, *rollout.Report, error) {
	inventoryPath, err := resolveInventoryPath(inventoryFlag, rt.settings.Inventory)
	if err != nil {
		return nil, nil, err
	}
	in, err := loadInputs(changeSetPath, inventoryPath, selector)
	if err != nil {
		return nil, nil, err
	}

	report, err := rt.controller.RunDryRun(ctx, in.changeSet, in.targets)
	if err != nil {
		return in, report, err
	}

	path, err := savePlan(rt.settings.ReportDir(), planFile{
		ChangeSetPath: in.changeSetPath,
		InventoryPath: in.inventoryPath,
		Selector:      in.selector,
		Report:        report,
	})
	if err != nil {
		return in, report, err
	}
	rt.logger.Debug(ctx, "report saved", ports.Report(report.ID), ports.F("path", path))
	return in, report, nil
}

func reportOptions(showUnchanged, noDiff bool) tui.ReportOptions {
	return tui.ReportOptions{ShowDiffs: !noDiff, ShowUnchanged: showUnchanged}
}

func printReport(w io.Writer, report *rollout.Report, jsonOut bool, opts tui.ReportOptions) error {
	if jsonOut {
		return writeJSON(w, report)
	}
	_, err := fmt.Fprint(w, tui.RenderReport(report, opts, tui.DefaultStyles()))
	return err
}

func printNextSteps(w io.Writer, report *rollout.Report) {
	if !report.HasChanges() && !report.Failed() {
		_, _ = fmt.Fprintln(w, "\nEverything is up to date. Nothing to apply.")
		return
	}
	_, _ = fmt.Fprintln(w, "\nNext steps:")
	_, _ = fmt.Fprintf(w, "  rollgate approve %s --fingerprint %s\n", report.ID, report.Fingerprint)
	_, _ = fmt.Fprintf(w, "  rollgate apply --report %s --token <token>\n", report.ID)
}
