package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/approval"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
)

func TestRootCommand_HasPersistentFlags(t *testing.T) {
	flags := rootCmd.PersistentFlags()
	for _, name := range []string{"config", "verbose", "log-format", "yes", "metrics-textfile", "state-dir", "actor", "local-root"} {
		t.Run(name, func(t *testing.T) {
			assert.NotNil(t, flags.Lookup(name))
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"inventory", "plan", "approve", "reject", "status", "apply", "rollout", "history", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestFormatError(t *testing.T) {
	cause := errors.New("yaml: line 3: did not find expected key")

	list := config.NewErrorList()
	list.AddValidation("max_parallel", "must be at least 1", "")
	list.AddValidation("audit.dsn", "required for the postgres sink", "Set audit.dsn.")

	tests := []struct {
		name     string
		err      error
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name: "user error",
			err: config.NewUserError(config.ErrCodeChangeSetParse, "change set is not valid YAML").
				WithContext("changeset.yaml").
				WithSuggestion("Check the indentation.").
				WithUnderlying(cause),
			contains: []string{"change set is not valid YAML (at changeset.yaml)", "Suggestion: Check the indentation."},
			excludes: []string{"Technical details"},
		},
		{
			name: "user error verbose",
			err: config.NewUserError(config.ErrCodeChangeSetParse, "change set is not valid YAML").
				WithUnderlying(cause),
			verbose:  true,
			contains: []string{"Technical details: yaml: line 3"},
		},
		{
			name:     "wrapped user error",
			err:      fmt.Errorf("plan failed: %w", config.NewUserError(config.ErrCodeReportNotFound, "report r-1 not found")),
			contains: []string{"report r-1 not found"},
			excludes: []string{"plan failed"},
		},
		{
			name:     "error list",
			err:      list.AsError(),
			contains: []string{"2 errors occurred", "max_parallel", "audit.dsn"},
		},
		{
			name:     "error list verbose",
			err:      list.AsError(),
			verbose:  true,
			contains: []string{"Found 2 error(s)", "Set audit.dsn."},
		},
		{
			name:     "approval timeout",
			err:      &rollout.Error{Code: rollout.CodeApprovalTimeout, Err: approval.ErrTimeout},
			contains: []string{"[APPROVAL_TIMEOUT]", "approval timed out", "--approval-timeout"},
		},
		{
			name:     "connection error",
			err:      &rollout.Error{Code: rollout.CodeConnection, Target: "gpu-01", Err: errors.New("refused")},
			contains: []string{"[CONNECTION_ERROR] connection error on gpu-01: refused"},
			excludes: []string{"Suggestion"},
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			contains: []string{"boom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := verbose
			verbose = tt.verbose
			t.Cleanup(func() { verbose = prev })

			msg := formatError(tt.err)
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, msg, s)
			}
		})
	}
}

func TestPrintErrorTo(t *testing.T) {
	var buf bytes.Buffer
	printErrorTo(&buf, errors.New("boom"))
	assert.Equal(t, "Error: boom\n", buf.String())
}

func TestParseSince(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "90m", want: 90 * time.Minute},
		{in: "12h", want: 12 * time.Hour},
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "2W", want: 14 * 24 * time.Hour},
		{in: "", wantErr: true},
		{in: "xd", wantErr: true},
		{in: "-1h", wantErr: true},
		{in: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := parseSince(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	report := &rollout.Report{
		ID:          "20260301-120000-4f2a9c1d",
		Mode:        rollout.ModeDryRun,
		ChangeSet:   "app-config",
		Fingerprint: "abc123",
		Targets:     []string{"gpu-01"},
		Results: []rollout.RunResult{
			{TargetID: "gpu-01", OperationID: "app-conf", Mode: rollout.ModeDryRun, Outcome: rollout.OutcomeWouldChange},
		},
	}
	report.Finalize()

	path, err := savePlan(dir, planFile{ChangeSetPath: "/tmp/cs.yaml", InventoryPath: "/tmp/inv.ini", Selector: "@ai_worker", Report: report})
	require.NoError(t, err)
	assert.FileExists(t, path)

	plan, err := loadPlan(dir, report.ID)
	require.NoError(t, err)
	assert.Equal(t, "@ai_worker", plan.Selector)
	assert.Equal(t, "/tmp/inv.ini", plan.InventoryPath)
	assert.Equal(t, report.Fingerprint, plan.Report.Fingerprint)
	assert.Equal(t, 1, plan.Report.Summary.WouldChange)

	_, err = loadPlan(dir, "missing")
	assert.ErrorIs(t, err, &config.UserError{Code: config.ErrCodeReportNotFound})
}
