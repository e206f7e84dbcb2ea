package tui

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
)

// ReportOptions controls RenderReport.
type ReportOptions struct {
	// ShowDiffs includes the unified diff under every changed operation.
	ShowDiffs bool
	// ShowUnchanged lists operations that need no change.
	ShowUnchanged bool
}

// RenderReport renders a dry-run or apply report for the terminal.
func RenderReport(report *rollout.Report, opts ReportOptions, styles Styles) string {
	var b strings.Builder

	title := "Dry-run report"
	if report.Mode == rollout.ModeApply {
		title = "Apply report"
	}
	b.WriteString(styles.Title.Render(title))
	b.WriteString("\n")
	b.WriteString(field(styles, "Report", report.ID))
	b.WriteString(field(styles, "Change set", report.ChangeSet))
	b.WriteString(field(styles, "Fingerprint", shortFingerprint(report.Fingerprint)))
	if report.Actor != "" {
		b.WriteString(field(styles, "Actor", report.Actor))
	}
	b.WriteString("\n")

	for _, target := range report.Targets {
		results := report.ResultsFor(target)
		b.WriteString(renderTarget(target, results, opts, styles))
	}

	b.WriteString("\n")
	b.WriteString(RenderSummary(report, styles))
	b.WriteString("\n")
	return b.String()
}

func renderTarget(target string, results []rollout.RunResult, opts ReportOptions, styles Styles) string {
	var b strings.Builder

	status := styles.Success.Render("ok")
	for _, res := range results {
		if res.Failed() {
			status = styles.Error.Render("failed")
			break
		}
		if res.Outcome == rollout.OutcomeWouldChange || res.Outcome == rollout.OutcomeChanged {
			status = styles.Warning.Render("changes")
		}
	}
	fmt.Fprintf(&b, "%s %s\n", styles.Subtitle.Render(target), status)

	for _, res := range results {
		if res.Outcome == rollout.OutcomeUnchanged && !opts.ShowUnchanged {
			continue
		}
		b.WriteString("  ")
		b.WriteString(styles.outcomeSymbol(res.Outcome))
		b.WriteString(" ")
		b.WriteString(res.OperationID)
		if detail := resultDetail(res); detail != "" {
			b.WriteString(styles.Muted.Render("  " + detail))
		}
		b.WriteString("\n")

		if opts.ShowDiffs && res.Diff != nil && res.Diff.Changed {
			b.WriteString(RenderDiff(res.Diff.Text(), "    ", styles))
		}
	}
	return b.String()
}

func resultDetail(res rollout.RunResult) string {
	switch {
	case res.Failed():
		if res.ErrorCode != "" {
			return fmt.Sprintf("[%s] %s", res.ErrorCode, res.Error)
		}
		return res.Error
	case res.Diff != nil:
		return res.Diff.Summary
	default:
		return ""
	}
}

// RenderDiff colours unified diff lines and indents them.
func RenderDiff(text, indent string, styles Styles) string {
	if text == "" {
		return ""
	}
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		b.WriteString(indent)
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			b.WriteString(styles.DiffHeader.Render(line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(styles.DiffAdd.Render(line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(styles.DiffRemove.Render(line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// RenderSummary renders the one-line outcome counts of a report.
func RenderSummary(report *rollout.Report, styles Styles) string {
	s := report.Summary
	parts := []string{fmt.Sprintf("%d targets", s.Targets)}
	if report.Mode == rollout.ModeDryRun {
		parts = append(parts, styles.Warning.Render(fmt.Sprintf("%d would change", s.WouldChange)))
	} else {
		parts = append(parts, styles.Success.Render(fmt.Sprintf("%d changed", s.Changed)))
	}
	parts = append(parts, fmt.Sprintf("%d unchanged", s.Unchanged))
	if s.Failed > 0 {
		parts = append(parts, styles.Error.Render(fmt.Sprintf("%d failed on %d targets", s.Failed, s.FailedTargets)))
	}
	line := strings.Join(parts, ", ")
	if report.Aborted {
		line += styles.Error.Render(" (aborted)")
	}
	return line
}

// RenderDecision renders an approval decision and, once approved, the
// token needed to apply it.
func RenderDecision(d approval.Decision, styles Styles) string {
	var b strings.Builder
	b.WriteString(styles.Title.Render("Approval"))
	b.WriteString("\n")
	b.WriteString(field(styles, "Report", d.ID))
	b.WriteString(field(styles, "Change set", d.ChangeSet))
	b.WriteString(field(styles, "Fingerprint", shortFingerprint(d.Fingerprint)))
	b.WriteString(field(styles, "Targets", strings.Join(d.Targets, ", ")))

	status := string(d.Status)
	switch d.Status {
	case approval.StatusApproved:
		status = styles.Success.Render(status)
	case approval.StatusRejected:
		if d.Reason != "" {
			status += " (" + d.Reason + ")"
		}
		status = styles.Error.Render(status)
	default:
		status = styles.Warning.Render(status)
	}
	b.WriteString(field(styles, "Status", status))
	if d.Actor != "" {
		b.WriteString(field(styles, "Decided by", d.Actor))
	}
	if d.Note != "" {
		b.WriteString(field(styles, "Note", d.Note))
	}
	if d.Token != "" {
		b.WriteString(field(styles, "Token", d.Token))
	}
	return b.String()
}

func field(styles Styles, label, value string) string {
	return styles.Label.Render(label+":") + " " + value + "\n"
}

func shortFingerprint(fp string) string {
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
