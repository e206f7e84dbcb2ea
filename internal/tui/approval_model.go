package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
)

// KeyMap holds the approval prompt bindings.
type KeyMap struct {
	Up      key.Binding
	Down    key.Binding
	Diff    key.Binding
	Approve key.Binding
	Reject  key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default bindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Diff: key.NewBinding(
			key.WithKeys("d", "tab"),
			key.WithHelp("d", "toggle diff"),
		),
		Approve: key.NewBinding(
			key.WithKeys("a", "y"),
			key.WithHelp("a/y", "approve"),
		),
		Reject: key.NewBinding(
			key.WithKeys("r", "n"),
			key.WithHelp("r/n", "reject"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "esc", "ctrl+c"),
			key.WithHelp("q/esc", "cancel"),
		),
	}
}

// ApprovalOptions configures the prompt.
type ApprovalOptions struct {
	// Deadline shows a countdown when set.
	Deadline time.Time
	// Resolved delivers a decision made elsewhere, e.g. by `rollgate
	// approve` from another shell. The prompt closes when it arrives.
	Resolved <-chan approval.Decision
}

// ApprovalResult is what the operator chose.
type ApprovalResult struct {
	Approved bool
	Rejected bool
	// Cancelled is set when the prompt was closed without a choice.
	Cancelled bool
	// External is the decision delivered on ApprovalOptions.Resolved.
	External *approval.Decision
}

type tickMsg time.Time

type resolvedMsg struct{ decision approval.Decision }

type approvalModel struct {
	report   *rollout.Report
	options  ApprovalOptions
	styles   Styles
	keys     KeyMap
	now      func() time.Time
	cursor   int
	showDiff bool
	width    int
	height   int

	approved  bool
	rejected  bool
	cancelled bool
	external  *approval.Decision
}

func newApprovalModel(report *rollout.Report, opts ApprovalOptions) approvalModel {
	return approvalModel{
		report:  report,
		options: opts,
		styles:  DefaultStyles(),
		keys:    DefaultKeyMap(),
		now:     time.Now,
		width:   80,
		height:  24,
	}
}

func (m approvalModel) Init() tea.Cmd {
	cmds := []tea.Cmd{tea.WindowSize()}
	if !m.options.Deadline.IsZero() {
		cmds = append(cmds, tick())
	}
	if m.options.Resolved != nil {
		cmds = append(cmds, waitResolved(m.options.Resolved))
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitResolved(ch <-chan approval.Decision) tea.Cmd {
	return func() tea.Msg {
		d, ok := <-ch
		if !ok {
			return nil
		}
		return resolvedMsg{decision: d}
	}
}

func (m approvalModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		return m, tick()

	case resolvedMsg:
		d := msg.decision
		m.external = &d
		return m, tea.Quit

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Approve):
			m.approved = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Reject):
			m.rejected = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, m.keys.Down):
			if m.cursor < len(m.report.Targets)-1 {
				m.cursor++
			}
		case key.Matches(msg, m.keys.Diff):
			m.showDiff = !m.showDiff
		}
	}
	return m, nil
}

func (m approvalModel) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render("Approve rollout?"))
	b.WriteString("\n")
	b.WriteString(field(m.styles, "Report", m.report.ID))
	b.WriteString(field(m.styles, "Change set", m.report.ChangeSet))
	b.WriteString(field(m.styles, "Fingerprint", shortFingerprint(m.report.Fingerprint)))
	if remaining := m.remaining(); remaining >= 0 {
		b.WriteString(field(m.styles, "Times out in", remaining.Round(time.Second).String()))
	}
	b.WriteString("\n")

	list := m.renderTargets()
	if m.showDiff && len(m.report.Targets) > 0 && m.width > 60 {
		detail := m.renderDetail(m.report.Targets[m.cursor])
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, list, "  ", m.styles.Panel.Render(detail)))
	} else {
		b.WriteString(list)
		if m.showDiff && len(m.report.Targets) > 0 {
			b.WriteString("\n")
			b.WriteString(m.renderDetail(m.report.Targets[m.cursor]))
		}
	}
	b.WriteString("\n\n")
	b.WriteString(RenderSummary(m.report, m.styles))
	b.WriteString("\n\n")
	b.WriteString(m.styles.Help.Render(m.helpLine()))
	return b.String()
}

func (m approvalModel) remaining() time.Duration {
	if m.options.Deadline.IsZero() {
		return -1
	}
	left := m.options.Deadline.Sub(m.now())
	if left < 0 {
		return 0
	}
	return left
}

func (m approvalModel) renderTargets() string {
	lines := make([]string, 0, len(m.report.Targets))
	for i, target := range m.report.Targets {
		counts := map[rollout.Outcome]int{}
		for _, res := range m.report.ResultsFor(target) {
			counts[res.Outcome]++
		}
		line := fmt.Sprintf("%s  %d to change, %d unchanged", target, counts[rollout.OutcomeWouldChange], counts[rollout.OutcomeUnchanged])
		if counts[rollout.OutcomeFailed] > 0 {
			line += fmt.Sprintf(", %d failed", counts[rollout.OutcomeFailed])
		}
		if i == m.cursor {
			lines = append(lines, m.styles.Selected.Render("> "+line))
		} else {
			lines = append(lines, "  "+line)
		}
	}
	return strings.Join(lines, "\n")
}

func (m approvalModel) renderDetail(target string) string {
	return strings.TrimSuffix(renderTarget(target, m.report.ResultsFor(target), ReportOptions{ShowDiffs: true}, m.styles), "\n")
}

func (m approvalModel) helpLine() string {
	bindings := []key.Binding{m.keys.Up, m.keys.Down, m.keys.Diff, m.keys.Approve, m.keys.Reject, m.keys.Quit}
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return strings.Join(parts, " • ")
}

func (m approvalModel) result() ApprovalResult {
	return ApprovalResult{
		Approved:  m.approved,
		Rejected:  m.rejected,
		Cancelled: m.cancelled,
		External:  m.external,
	}
}

// RunApprovalPrompt shows the dry-run report and asks the operator to
// approve or reject it.
func RunApprovalPrompt(ctx context.Context, report *rollout.Report, opts ApprovalOptions, progOpts ...tea.ProgramOption) (ApprovalResult, error) {
	progOpts = append([]tea.ProgramOption{tea.WithContext(ctx)}, progOpts...)
	p := tea.NewProgram(newApprovalModel(report, opts), progOpts...)
	final, err := p.Run()
	if err != nil {
		return ApprovalResult{}, fmt.Errorf("approval prompt failed: %w", err)
	}
	m, ok := final.(approvalModel)
	if !ok {
		return ApprovalResult{}, fmt.Errorf("unexpected model type %T", final)
	}
	return m.result(), nil
}
