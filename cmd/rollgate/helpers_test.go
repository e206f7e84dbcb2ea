package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/felixgeelhaar/rollgate/internal/testutil"
)

func testInventory() string {
	return testutil.NewInventoryBuilder().
		WithHost("gpu-01", "ai_worker").WithTags("gpu").
		WithHost("gpu-02", "ai_worker").WithTags("gpu", "canary").
		WithHost("web-01", "web").
		WithGroup("ai_worker", "GPU inference nodes").
		WithGroup("web", "Frontends").
		Build().
		ToYAML()
}

func testChangeSet(content string) string {
	return testutil.NewChangeSetBuilder("app-config").
		WithFile("app-conf", "/etc/app.conf", content).
		Build().
		ToYAML()
}

// fixture is a throwaway workspace with an inventory, a change set and a
// state dir. Local targets live under root/<target>.
type fixture struct {
	dir       string
	inventory string
	changeSet string
	state     string
	root      string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		dir:       dir,
		inventory: filepath.Join(dir, "inventory.yaml"),
		changeSet: filepath.Join(dir, "changeset.yaml"),
		state:     filepath.Join(dir, "state"),
		root:      filepath.Join(dir, "hosts"),
	}
	testutil.WriteFile(t, dir, "inventory.yaml", testInventory())
	testutil.WriteFile(t, dir, "changeset.yaml", testChangeSet("workers=4\n"))
	return f
}

// args prefixes the global flags that point the CLI at the fixture.
func (f fixture) args(args ...string) []string {
	return append(args, "--state-dir", f.state, "--local-root", f.root, "--actor", "tester")
}

func (f fixture) hostFile(target, path string) string {
	return filepath.Join(f.root, target, path)
}

// executeCommand runs the root command with fresh flag values and returns
// stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, child := range cmd.Commands() {
		resetFlags(child)
	}
}
