package changeset

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// ChangeSet is an ordered sequence of operations. Order defines apply order;
// every operation is independently idempotent.
type ChangeSet struct {
	name       string
	operations []Operation
}

// New creates a change set, rejecting duplicate operation IDs.
func New(name string, ops ...Operation) (*ChangeSet, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("change set name is required")
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("change set %s has no operations", name)
	}

	seen := make(map[string]bool, len(ops))
	for i, op := range ops {
		if op == nil {
			return nil, fmt.Errorf("change set %s: operation %d is nil", name, i)
		}
		if seen[op.ID()] {
			return nil, fmt.Errorf("change set %s: duplicate operation id %q", name, op.ID())
		}
		seen[op.ID()] = true
	}

	copied := make([]Operation, len(ops))
	copy(copied, ops)
	return &ChangeSet{name: name, operations: copied}, nil
}

// FromSpecs builds a change set from declarative specs.
func FromSpecs(name string, specs []Spec) (*ChangeSet, error) {
	ops := make([]Operation, 0, len(specs))
	for i, spec := range specs {
		op, err := NewOperation(spec)
		if err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		ops = append(ops, op)
	}
	return New(name, ops...)
}

// Name returns the change set name.
func (c *ChangeSet) Name() string {
	return c.name
}

// Operations returns the operations in apply order.
func (c *ChangeSet) Operations() []Operation {
	result := make([]Operation, len(c.operations))
	copy(result, c.operations)
	return result
}

// Len returns the number of operations.
func (c *ChangeSet) Len() int {
	return len(c.operations)
}

// Specs returns the declarative specs in order.
func (c *ChangeSet) Specs() []Spec {
	specs := make([]Spec, len(c.operations))
	for i, op := range c.operations {
		specs[i] = op.Spec()
	}
	return specs
}

// Fingerprint is the hex sha256 of the canonical JSON encoding of the
// ordered operation specs. Approvals are bound to it.
func (c *ChangeSet) Fingerprint() string {
	data, err := json.Marshal(c.Specs())
	if err != nil {
		// Spec holds only strings; encoding cannot fail.
		panic(fmt.Sprintf("changeset: marshal specs: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
