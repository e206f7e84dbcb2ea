// Package transport provides the connections the rollout executor uses to
// run checks and changes on targets.
package transport

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
)

// CommandResult holds the result of a command execution.
type CommandResult struct {
	// ExitCode is the command's exit code.
	ExitCode int
	// Stdout is the standard output.
	Stdout []byte
	// Stderr is the standard error output.
	Stderr []byte
	// Duration is how long the command took.
	Duration time.Duration
}

// Success returns true if the command exited with code 0.
func (r *CommandResult) Success() bool {
	return r.ExitCode == 0
}

// CombinedOutput returns stdout and stderr combined.
func (r *CommandResult) CombinedOutput() []byte {
	result := make([]byte, 0, len(r.Stdout)+len(r.Stderr))
	result = append(result, r.Stdout...)
	result = append(result, r.Stderr...)
	return result
}

// Connection is an open session to a target.
type Connection interface {
	// Target returns the connected target.
	Target() *fleet.Target

	// Run executes a command and returns the result.
	Run(ctx context.Context, cmd string) (*CommandResult, error)

	// RunWithInput executes a command with stdin input.
	RunWithInput(ctx context.Context, cmd string, stdin io.Reader) (*CommandResult, error)

	// ReadFile returns the content of a file on the target.
	// A missing file yields an error wrapping fs.ErrNotExist.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile creates or replaces a file on the target, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error

	// FileMode returns the permission bits of a file on the target.
	// A missing file yields an error wrapping fs.ErrNotExist.
	FileMode(ctx context.Context, path string) (fs.FileMode, error)

	// Close closes the connection.
	Close() error
}

// Transport opens connections to targets.
type Transport interface {
	// Name returns the transport name (e.g., "ssh", "local").
	Name() string

	// Connect establishes a connection to a target.
	Connect(ctx context.Context, target *fleet.Target) (Connection, error)

	// Ping tests connectivity to a target.
	Ping(ctx context.Context, target *fleet.Target) error
}

// Dialer is the part of a registry the executor needs.
type Dialer interface {
	Connect(ctx context.Context, target *fleet.Target) (Connection, error)
}

// Registry selects a transport per target by ConnParams.Transport.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewRegistry creates a registry holding the given transports.
func NewRegistry(transports ...Transport) *Registry {
	r := &Registry{transports: make(map[string]Transport)}
	for _, t := range transports {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a transport under its name.
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
}

// Get returns the transport with the given name.
func (r *Registry) Get(name string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// Names returns the registered transport names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect opens a connection using the target's transport.
func (r *Registry) Connect(ctx context.Context, target *fleet.Target) (Connection, error) {
	name := target.Conn().Transport
	if name == "" {
		name = fleet.TransportSSH
	}
	t, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("no transport %q registered (have %s)", name, strings.Join(r.Names(), ", "))
	}
	return t.Connect(ctx, target)
}

// ShellQuote quotes s for safe use as a single POSIX shell word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// exitNotExist is the exit status the read script uses for a missing file.
const exitNotExist = 3

func readFileCommand(path string) string {
	q := ShellQuote(path)
	return fmt.Sprintf("if [ -e %s ]; then cat -- %s; else exit %d; fi", q, q, exitNotExist)
}

func fileModeCommand(path string) string {
	q := ShellQuote(path)
	return fmt.Sprintf("if [ -e %s ]; then stat -c %%a -- %s 2>/dev/null || stat -f %%Lp -- %s; else exit %d; fi", q, q, q, exitNotExist)
}

func writeFileCommand(path string, mode fs.FileMode) string {
	q := ShellQuote(path)
	dir := ShellQuote(parentDir(path))
	return fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s", dir, q, mode.Perm(), q)
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	switch {
	case idx < 0:
		return "."
	case idx == 0:
		return "/"
	default:
		return path[:idx]
	}
}

// The *ViaShell helpers implement the file operations of shell backed
// connections.
func readViaShell(ctx context.Context, c Connection, path string) ([]byte, error) {
	result, err := c.Run(ctx, readFileCommand(path))
	if err != nil {
		return nil, err
	}
	switch {
	case result.Success():
		return result.Stdout, nil
	case result.ExitCode == exitNotExist:
		return nil, fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
	default:
		return nil, fmt.Errorf("read %s: exit %d: %s", path, result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}
}

func modeViaShell(ctx context.Context, c Connection, path string) (fs.FileMode, error) {
	result, err := c.Run(ctx, fileModeCommand(path))
	if err != nil {
		return 0, err
	}
	switch {
	case result.Success():
		perm, err := strconv.ParseUint(strings.TrimSpace(string(result.Stdout)), 8, 32)
		if err != nil {
			return 0, fmt.Errorf("stat %s: unexpected mode %q", path, strings.TrimSpace(string(result.Stdout)))
		}
		return fs.FileMode(perm).Perm(), nil
	case result.ExitCode == exitNotExist:
		return 0, fmt.Errorf("stat %s: %w", path, fs.ErrNotExist)
	default:
		return 0, fmt.Errorf("stat %s: exit %d: %s", path, result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}
}

func writeViaShell(ctx context.Context, c Connection, path string, data []byte, mode fs.FileMode) error {
	result, err := c.RunWithInput(ctx, writeFileCommand(path, mode), strings.NewReader(string(data)))
	if err != nil {
		return err
	}
	if !result.Success() {
		return fmt.Errorf("write %s: exit %d: %s", path, result.ExitCode, strings.TrimSpace(string(result.Stderr)))
	}
	return nil
}
