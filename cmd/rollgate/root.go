package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/rollout"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile         string
	verbose         bool
	logFormat       string
	yesFlag         bool
	metricsTextfile string
	stateDir        string
	actorFlag       string
	localRoot       string
)

var rootCmd = &cobra.Command{
	Use:   "rollgate",
	Short: "A gated configuration rollout controller",
	Long: `Rollgate pushes a change set to a fleet of hosts in two phases.

A dry-run computes what would change on every selected target and records
it in the audit log. Nothing is applied until the run is approved:
  plan → approve → apply

Approvals are bound to the exact change set and target set that was
checked, and every step is written to a hash-chained audit log.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: rollgate.yaml or rollgate.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&yesFlag, "yes", "y", false, "approve interactive rollouts without prompting")
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "", "write Prometheus metrics to this file on exit")
	rootCmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "directory for reports, decisions and the file audit log")
	rootCmd.PersistentFlags().StringVar(&actorFlag, "actor", "", "name recorded as the actor in audit records")
	rootCmd.PersistentFlags().StringVar(&localRoot, "local-root", "", "resolve local-transport targets under <dir>/<target> instead of /")

	registerFlagCompletions()

	rootCmd.AddCommand(versionCmd)
}

// formatError returns a user-friendly error message.
// With verbose=false: shows only the user message and suggestion.
// With verbose=true: also shows the underlying technical error.
func formatError(err error) string {
	var list *config.ErrorList
	if errors.As(err, &list) {
		if verbose {
			return list.Format()
		}
		return list.Error()
	}

	var userErr *config.UserError
	if errors.As(err, &userErr) {
		msg := userErr.Message
		if userErr.Context != "" {
			msg += fmt.Sprintf(" (at %s)", userErr.Context)
		}
		if userErr.Suggestion != "" {
			msg += fmt.Sprintf("\n\nSuggestion: %s", userErr.Suggestion)
		}
		if verbose && userErr.Underlying != nil {
			msg += fmt.Sprintf("\n\nTechnical details: %v", userErr.Underlying)
		}
		return msg
	}

	var rolloutErr *rollout.Error
	if errors.As(err, &rolloutErr) {
		msg := fmt.Sprintf("[%s] %s", rolloutErr.Code, err.Error())
		if hint := suggestionFor(rolloutErr.Code); hint != "" {
			msg += fmt.Sprintf("\n\nSuggestion: %s", hint)
		}
		return msg
	}
	return err.Error()
}

func suggestionFor(code rollout.Code) string {
	switch code {
	case rollout.CodeApprovalRejected:
		return "Run `rollgate plan` again to get a fresh report and ask for a new approval."
	case rollout.CodeApprovalTimeout:
		return "Raise --approval-timeout or approve from another shell with `rollgate approve`."
	case rollout.CodeAuditWriteFailed:
		return "Check that the audit sink is reachable and writable; no further changes were made."
	default:
		return ""
	}
}

// printError prints an error message to stderr with proper formatting.
func printError(err error) {
	printErrorTo(os.Stderr, err)
}

// printErrorTo prints an error message to the given writer.
func printErrorTo(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %s\n", formatError(err))
}

// registerFlagCompletions sets up custom completions for global flags.
func registerFlagCompletions() {
	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml", "toml"}, cobra.ShellCompDirectiveFilterFileExt
	})

	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"text\tHuman readable lines",
			"json\tOne JSON object per line",
		}, cobra.ShellCompDirectiveNoFileComp
	})
}
