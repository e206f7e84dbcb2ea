package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rollgate/internal/domain/audit"
)

var (
	historyReport  string
	historyTarget  string
	historyMode    string
	historyOutcome []string
	historySince   string
	historyLimit   int
	historyVerify  bool
	historyJSON    bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the audit log",
	Long: `History reads the audit log: every dry-run result, approval decision
and applied operation, in the order they were recorded.

Examples:
  rollgate history                          # Most recent records
  rollgate history --report <id>            # One rollout, plan to apply
  rollgate history --target gpu-01 --mode apply
  rollgate history --since 7d --outcome failed
  rollgate history --verify                 # Check the hash chain`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyReport, "report", "", "filter by report ID")
	historyCmd.Flags().StringVar(&historyTarget, "target", "", "filter by target")
	historyCmd.Flags().StringVar(&historyMode, "mode", "", "filter by mode (dry-run, apply, approval)")
	historyCmd.Flags().StringSliceVar(&historyOutcome, "outcome", nil, "filter by outcome, repeatable")
	historyCmd.Flags().StringVar(&historySince, "since", "", "only records newer than this (e.g. 90m, 12h, 7d, 2w)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum records to show (0 = all)")
	historyCmd.Flags().BoolVar(&historyVerify, "verify", false, "verify the hash chain of the whole log")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "output as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	settings, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	sink, err := openAuditSink(ctx, settings)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	querier, ok := sink.(audit.Querier)
	if !ok {
		return fmt.Errorf("audit sink %q cannot be read back", settings.Audit.Sink)
	}

	out := cmd.OutOrStdout()
	if historyVerify {
		return verifyHistory(ctx, out, querier)
	}

	filter, err := historyFilter(time.Now())
	if err != nil {
		return err
	}
	records, err := querier.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	if historyJSON {
		return writeJSON(out, records)
	}
	return writeHistory(out, records)
}

func historyFilter(now time.Time) (audit.QueryFilter, error) {
	filter := audit.QueryFilter{
		ReportID: historyReport,
		Mode:     historyMode,
		TargetID: historyTarget,
		Outcomes: historyOutcome,
		Limit:    historyLimit,
	}
	switch historyMode {
	case "", audit.ModeDryRun, audit.ModeApply, audit.ModeApproval:
	default:
		return filter, fmt.Errorf("unknown mode %q (use dry-run, apply or approval)", historyMode)
	}
	if historySince != "" {
		since, err := parseSince(historySince)
		if err != nil {
			return filter, fmt.Errorf("invalid --since: %w", err)
		}
		filter.Since = now.Add(-since)
	}
	return filter, nil
}

// parseSince accepts Go durations plus day and week suffixes.
func parseSince(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, errors.New("empty duration")
	}
	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		day := 24 * time.Hour
		if unit == 'w' {
			return time.Duration(n) * 7 * day, nil
		}
		return time.Duration(n) * day, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func verifyHistory(ctx context.Context, out io.Writer, querier audit.Querier) error {
	records, err := querier.Query(ctx, audit.QueryFilter{})
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	if err := audit.VerifyChain(records); err != nil {
		return err
	}
	if len(records) == 0 {
		_, err = fmt.Fprintln(out, "Audit log is empty.")
		return err
	}
	first, last := records[0], records[len(records)-1]
	_, err = fmt.Fprintf(out, "Audit chain intact: %d records, seq %d to %d, head %s\n",
		len(records), first.Sequence, last.Sequence, shortHash(last.Hash))
	return err
}

func writeHistory(out io.Writer, records []audit.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "No audit records found.")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	//nolint:errcheck // Tabwriter errors are captured by Flush
	fmt.Fprintln(w, "SEQ\tTIME\tREPORT\tMODE\tTARGET\tOPERATION\tOUTCOME\tACTOR")
	for _, r := range records {
		outcome := r.Outcome
		if r.ErrorCode != "" {
			outcome += " [" + r.ErrorCode + "]"
		}
		//nolint:errcheck // Tabwriter errors are captured by Flush
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Sequence,
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.ReportID,
			r.Mode,
			orDash(r.TargetID),
			orDash(r.OperationID),
			outcome,
			orDash(r.Actor),
		)
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
