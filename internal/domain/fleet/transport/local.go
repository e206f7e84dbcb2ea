package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
)

// LocalTransport runs everything on the controller machine.
// With a Root set, file paths are resolved under Root and commands run
// with Root as the working directory, which lets one machine stand in for
// several targets.
type LocalTransport struct {
	// Root prefixes every file path. Empty means the real filesystem.
	Root string
	// PerTarget gives each target its own directory under Root.
	PerTarget bool
}

// NewLocalTransport creates a new local transport.
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{}
}

// Name returns "local".
func (t *LocalTransport) Name() string {
	return fleet.TransportLocal
}

// Connect returns a local connection.
func (t *LocalTransport) Connect(_ context.Context, target *fleet.Target) (Connection, error) {
	root := t.Root
	if root != "" && t.PerTarget {
		root = filepath.Join(root, target.ID().String())
	}
	if root != "" {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("failed to prepare local root %s: %w", root, err)
		}
	}
	return &LocalConnection{target: target, root: root}, nil
}

// Ping always succeeds for local.
func (t *LocalTransport) Ping(_ context.Context, _ *fleet.Target) error {
	return nil
}

// LocalConnection implements Connection for local execution.
type LocalConnection struct {
	target *fleet.Target
	root   string
}

// Target returns the target.
func (c *LocalConnection) Target() *fleet.Target {
	return c.target
}

// Run executes a command locally.
func (c *LocalConnection) Run(ctx context.Context, cmdStr string) (*CommandResult, error) {
	return c.RunWithInput(ctx, cmdStr, nil)
}

// RunWithInput executes a command with stdin.
func (c *LocalConnection) RunWithInput(ctx context.Context, cmdStr string, stdin io.Reader) (*CommandResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	if c.root != "" {
		cmd.Dir = c.root
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if stdin != nil {
		cmd.Stdin = stdin
	}

	err := cmd.Run()

	result := &CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, err
		}
	}

	return result, nil
}

// ReadFile reads a file, resolved under the root when one is set.
func (c *LocalConnection) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(c.resolve(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes a file, resolved under the root when one is set.
func (c *LocalConnection) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	full := c.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(full, data, mode.Perm()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Chmod(full, mode.Perm())
}

// FileMode returns the permission bits of a file under the root.
func (c *LocalConnection) FileMode(_ context.Context, path string) (fs.FileMode, error) {
	info, err := os.Stat(c.resolve(path))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.Mode().Perm(), nil
}

// Close is a no-op for local connections.
func (c *LocalConnection) Close() error {
	return nil
}

func (c *LocalConnection) resolve(path string) string {
	if c.root == "" {
		return path
	}
	return filepath.Join(c.root, filepath.Clean("/"+path))
}
