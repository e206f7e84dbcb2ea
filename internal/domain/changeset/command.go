package changeset

import (
	"context"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/transport"
)

// CommandOperation runs a command unless a guard command already succeeds.
// Without a guard the command is reported as a change on every check.
type CommandOperation struct {
	spec    Spec
	command string
	unless  string
}

// NewCommandOperation creates a guarded command operation.
func NewCommandOperation(id, command, unless string) (*CommandOperation, error) {
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("operation %s: command is required", id)
	}
	return &CommandOperation{
		spec:    Spec{ID: id, Kind: KindCommand, Command: command, Unless: unless},
		command: command,
		unless:  unless,
	}, nil
}

// ID returns the operation identifier.
func (o *CommandOperation) ID() string { return o.spec.ID }

// Kind returns KindCommand.
func (o *CommandOperation) Kind() Kind { return KindCommand }

// Description returns a human description.
func (o *CommandOperation) Description() string {
	if o.spec.Description != "" {
		return o.spec.Description
	}
	return fmt.Sprintf("Run %s", o.command)
}

// Spec returns the declarative form.
func (o *CommandOperation) Spec() Spec { return o.spec }

// Check runs the guard command; exit 0 means the state is already reached.
func (o *CommandOperation) Check(ctx context.Context, conn transport.Connection) (Diff, error) {
	return checkWithGuard(ctx, conn, o.unless, o.command, fmt.Sprintf("run %q", o.command))
}

// Apply runs the command.
func (o *CommandOperation) Apply(ctx context.Context, conn transport.Connection) error {
	return runCommand(ctx, conn, o.command)
}

// packageCommands maps a package manager to its install and check templates.
var packageCommands = map[string][2]string{
	"apt":  {"DEBIAN_FRONTEND=noninteractive apt-get install -y %s", "dpkg -s %s 2>/dev/null | grep -q '^Status: install ok installed'"},
	"dnf":  {"dnf install -y %s", "rpm -q %s >/dev/null 2>&1"},
	"yum":  {"yum install -y %s", "rpm -q %s >/dev/null 2>&1"},
	"brew": {"brew install %s", "brew list %s >/dev/null 2>&1"},
}

// PackageOperation ensures a package is installed.
type PackageOperation struct {
	spec       Spec
	installCmd string
	checkCmd   string
}

// NewPackageOperation creates a package install operation for apt, dnf, yum or brew.
func NewPackageOperation(id, manager, pkg string) (*PackageOperation, error) {
	if strings.TrimSpace(pkg) == "" {
		return nil, fmt.Errorf("operation %s: package is required", id)
	}
	templates, ok := packageCommands[manager]
	if !ok {
		return nil, fmt.Errorf("operation %s: unsupported package manager %q", id, manager)
	}
	quoted := transport.ShellQuote(pkg)
	return &PackageOperation{
		spec:       Spec{ID: id, Kind: KindPackage, Manager: manager, Package: pkg},
		installCmd: fmt.Sprintf(templates[0], quoted),
		checkCmd:   fmt.Sprintf(templates[1], quoted),
	}, nil
}

// ID returns the operation identifier.
func (o *PackageOperation) ID() string { return o.spec.ID }

// Kind returns KindPackage.
func (o *PackageOperation) Kind() Kind { return KindPackage }

// Description returns a human description.
func (o *PackageOperation) Description() string {
	if o.spec.Description != "" {
		return o.spec.Description
	}
	return fmt.Sprintf("Install %s via %s", o.spec.Package, o.spec.Manager)
}

// Spec returns the declarative form.
func (o *PackageOperation) Spec() Spec { return o.spec }

// InstallCommand returns the command Apply runs.
func (o *PackageOperation) InstallCommand() string { return o.installCmd }

// CheckCommand returns the command Check runs.
func (o *PackageOperation) CheckCommand() string { return o.checkCmd }

// Check queries the package database.
func (o *PackageOperation) Check(ctx context.Context, conn transport.Connection) (Diff, error) {
	return checkWithGuard(ctx, conn, o.checkCmd, o.spec.Package, fmt.Sprintf("install %s", o.spec.Package))
}

// Apply installs the package.
func (o *PackageOperation) Apply(ctx context.Context, conn transport.Connection) error {
	return runCommand(ctx, conn, o.installCmd)
}

// SymlinkOperation ensures a symlink points at a source path.
type SymlinkOperation struct {
	spec Spec
}

// NewSymlinkOperation creates a symlink operation.
func NewSymlinkOperation(id, source, link string) (*SymlinkOperation, error) {
	if source == "" || link == "" {
		return nil, fmt.Errorf("operation %s: source and link are required", id)
	}
	return &SymlinkOperation{spec: Spec{ID: id, Kind: KindSymlink, Source: source, Link: link}}, nil
}

// ID returns the operation identifier.
func (o *SymlinkOperation) ID() string { return o.spec.ID }

// Kind returns KindSymlink.
func (o *SymlinkOperation) Kind() Kind { return KindSymlink }

// Description returns a human description.
func (o *SymlinkOperation) Description() string {
	if o.spec.Description != "" {
		return o.spec.Description
	}
	return fmt.Sprintf("Link %s -> %s", o.spec.Link, o.spec.Source)
}

// Spec returns the declarative form.
func (o *SymlinkOperation) Spec() Spec { return o.spec }

// Check reads the current link destination.
func (o *SymlinkOperation) Check(ctx context.Context, conn transport.Connection) (Diff, error) {
	result, err := conn.Run(ctx, "readlink -- "+transport.ShellQuote(o.spec.Link))
	if err != nil {
		return Diff{}, fmt.Errorf("readlink %s: %w", o.spec.Link, err)
	}
	current := strings.TrimSpace(string(result.Stdout))
	if result.Success() && current == o.spec.Source {
		return NoChange(o.spec.Link), nil
	}
	return Diff{
		Changed: true,
		Subject: o.spec.Link,
		Before:  current,
		After:   o.spec.Source,
		Summary: fmt.Sprintf("link %s -> %s", o.spec.Link, o.spec.Source),
	}, nil
}

// Apply creates or replaces the link.
func (o *SymlinkOperation) Apply(ctx context.Context, conn transport.Connection) error {
	link := transport.ShellQuote(o.spec.Link)
	cmd := fmt.Sprintf("mkdir -p \"$(dirname -- %s)\" && ln -sfn -- %s %s", link, transport.ShellQuote(o.spec.Source), link)
	return runCommand(ctx, conn, cmd)
}

func checkWithGuard(ctx context.Context, conn transport.Connection, guard, subject, summary string) (Diff, error) {
	changed := Diff{Changed: true, Subject: subject, Summary: summary}
	if guard == "" {
		return changed, nil
	}
	result, err := conn.Run(ctx, guard)
	if err != nil {
		return Diff{}, fmt.Errorf("check command failed: %w", err)
	}
	if result.Success() {
		return NoChange(subject), nil
	}
	return changed, nil
}

func runCommand(ctx context.Context, conn transport.Connection, cmd string) error {
	result, err := conn.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("apply command failed: %w", err)
	}
	if !result.Success() {
		stderr := strings.TrimSpace(string(result.Stderr))
		if stderr == "" {
			stderr = strings.TrimSpace(string(result.Stdout))
		}
		return fmt.Errorf("command exited with code %d: %s", result.ExitCode, stderr)
	}
	return nil
}
