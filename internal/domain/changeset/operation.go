// Package changeset models the ordered, idempotent operations a rollout
// applies to each target.
package changeset

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/transport"
)

// Kind identifies an operation type.
type Kind string

const (
	// KindFile sets the content of a file.
	KindFile Kind = "file"
	// KindCommand runs a command guarded by a check command.
	KindCommand Kind = "command"
	// KindPackage installs a package through the system package manager.
	KindPackage Kind = "package"
	// KindSymlink points a symlink at a source path.
	KindSymlink Kind = "symlink"
)

// Operation is one declarative, idempotent desired-state assertion.
// Check must not mutate the target. Applying an operation twice must leave
// the second Check reporting no change.
type Operation interface {
	ID() string
	Kind() Kind
	Description() string
	// Spec returns the declarative form the operation was built from.
	Spec() Spec
	// Check compares desired and observed state.
	Check(ctx context.Context, conn transport.Connection) (Diff, error)
	// Apply converges the target to the desired state.
	Apply(ctx context.Context, conn transport.Connection) error
}

// Spec is the serialisable description of an operation. Only the fields
// relevant to Kind are set; the JSON form feeds the changeset fingerprint.
type Spec struct {
	ID          string `json:"id" yaml:"id"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// file
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Content string `json:"content,omitempty" yaml:"content,omitempty"`
	Mode    string `json:"mode,omitempty" yaml:"mode,omitempty"`

	// command
	Command string `json:"command,omitempty" yaml:"command,omitempty"`
	Unless  string `json:"unless,omitempty" yaml:"unless,omitempty"`

	// package
	Manager string `json:"manager,omitempty" yaml:"manager,omitempty"`
	Package string `json:"package,omitempty" yaml:"package,omitempty"`

	// symlink
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	Link   string `json:"link,omitempty" yaml:"link,omitempty"`
}

// NewOperation builds the operation described by spec.
func NewOperation(spec Spec) (Operation, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return nil, fmt.Errorf("operation id is required")
	}

	switch spec.Kind {
	case KindFile:
		mode := uint64(defaultFileMode)
		if spec.Mode != "" {
			parsed, err := strconv.ParseUint(spec.Mode, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("operation %s: invalid mode %q: %w", spec.ID, spec.Mode, err)
			}
			mode = parsed
		}
		op, err := NewFileOperation(spec.ID, spec.Path, spec.Content, uint32(mode))
		if err != nil {
			return nil, err
		}
		op.spec.Description = spec.Description
		return op, nil
	case KindCommand:
		op, err := NewCommandOperation(spec.ID, spec.Command, spec.Unless)
		if err != nil {
			return nil, err
		}
		op.spec.Description = spec.Description
		return op, nil
	case KindPackage:
		op, err := NewPackageOperation(spec.ID, spec.Manager, spec.Package)
		if err != nil {
			return nil, err
		}
		op.spec.Description = spec.Description
		return op, nil
	case KindSymlink:
		op, err := NewSymlinkOperation(spec.ID, spec.Source, spec.Link)
		if err != nil {
			return nil, err
		}
		op.spec.Description = spec.Description
		return op, nil
	case "":
		return nil, fmt.Errorf("operation %s: kind is required", spec.ID)
	default:
		return nil, fmt.Errorf("operation %s: unknown kind %q", spec.ID, spec.Kind)
	}
}
