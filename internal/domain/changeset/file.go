package changeset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/transport"
)

const defaultFileMode = 0o644

// FileOperation asserts that a file has exactly the given content and mode.
type FileOperation struct {
	spec    Spec
	path    string
	content string
	mode    fs.FileMode
}

// NewFileOperation creates a file content operation. The path must be absolute.
func NewFileOperation(id, filePath, content string, mode uint32) (*FileOperation, error) {
	if filePath == "" {
		return nil, fmt.Errorf("operation %s: path is required", id)
	}
	if !strings.HasPrefix(filePath, "/") {
		return nil, fmt.Errorf("operation %s: path %q must be absolute", id, filePath)
	}
	if mode == 0 {
		mode = defaultFileMode
	}
	clean := path.Clean(filePath)
	return &FileOperation{
		spec: Spec{
			ID:      id,
			Kind:    KindFile,
			Path:    clean,
			Content: content,
			Mode:    fmt.Sprintf("%04o", mode),
		},
		path:    clean,
		content: content,
		mode:    fs.FileMode(mode),
	}, nil
}

// ID returns the operation identifier.
func (o *FileOperation) ID() string { return o.spec.ID }

// Kind returns KindFile.
func (o *FileOperation) Kind() Kind { return KindFile }

// Description returns a human description.
func (o *FileOperation) Description() string {
	if o.spec.Description != "" {
		return o.spec.Description
	}
	return fmt.Sprintf("Write file %s", o.path)
}

// Spec returns the declarative form.
func (o *FileOperation) Spec() Spec { return o.spec }

// Path returns the managed file path.
func (o *FileOperation) Path() string { return o.path }

// Check compares the file's content and permission bits with the desired
// state.
func (o *FileOperation) Check(ctx context.Context, conn transport.Connection) (Diff, error) {
	current, err := conn.ReadFile(ctx, o.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Diff{
			Changed: true,
			Subject: o.path,
			After:   o.content,
			Summary: fmt.Sprintf("create %s", o.path),
		}, nil
	case err != nil:
		return Diff{}, fmt.Errorf("read %s: %w", o.path, err)
	}

	mode, err := conn.FileMode(ctx, o.path)
	if err != nil {
		return Diff{}, fmt.Errorf("stat %s: %w", o.path, err)
	}
	modeChanged := mode.Perm() != o.mode.Perm()

	switch {
	case string(current) != o.content:
		summary := fmt.Sprintf("update %s", o.path)
		if modeChanged {
			summary += fmt.Sprintf(" (mode %04o -> %04o)", mode.Perm(), o.mode.Perm())
		}
		return Diff{
			Changed: true,
			Subject: o.path,
			Before:  string(current),
			After:   o.content,
			Summary: summary,
		}, nil
	case modeChanged:
		return Diff{
			Changed: true,
			Subject: o.path,
			Summary: fmt.Sprintf("chmod %s %04o -> %04o", o.path, mode.Perm(), o.mode.Perm()),
		}, nil
	default:
		return NoChange(o.path), nil
	}
}

// Apply writes the desired content and mode.
func (o *FileOperation) Apply(ctx context.Context, conn transport.Connection) error {
	if err := conn.WriteFile(ctx, o.path, []byte(o.content), o.mode); err != nil {
		return fmt.Errorf("write %s: %w", o.path, err)
	}
	return nil
}
