package testutil

import (
	"fmt"
	"sort"
	"strings"
)

// TestHost is a host entry of an inventory fixture.
type TestHost struct {
	Name   string
	Groups []string
	Tags   []string
}

// TestInventory is a simplified YAML inventory for tests.
type TestInventory struct {
	Transport string
	Hosts     []TestHost
	Groups    map[string]string
}

// InventoryBuilder builds inventory fixtures.
type InventoryBuilder struct {
	inventory TestInventory
}

// NewInventoryBuilder creates a builder whose hosts use the local transport.
func NewInventoryBuilder() *InventoryBuilder {
	return &InventoryBuilder{
		inventory: TestInventory{
			Transport: "local",
			Groups:    make(map[string]string),
		},
	}
}

// WithTransport sets the default transport.
func (b *InventoryBuilder) WithTransport(name string) *InventoryBuilder {
	b.inventory.Transport = name
	return b
}

// WithHost adds a host in the given groups.
func (b *InventoryBuilder) WithHost(name string, groups ...string) *InventoryBuilder {
	b.inventory.Hosts = append(b.inventory.Hosts, TestHost{Name: name, Groups: groups})
	return b
}

// WithTags tags the most recently added host.
func (b *InventoryBuilder) WithTags(tags ...string) *InventoryBuilder {
	if n := len(b.inventory.Hosts); n > 0 {
		b.inventory.Hosts[n-1].Tags = append(b.inventory.Hosts[n-1].Tags, tags...)
	}
	return b
}

// WithGroup declares a group with a description.
func (b *InventoryBuilder) WithGroup(name, description string) *InventoryBuilder {
	b.inventory.Groups[name] = description
	return b
}

// Build returns the constructed inventory.
func (b *InventoryBuilder) Build() TestInventory {
	return b.inventory
}

// ToYAML renders the inventory in the YAML inventory format.
func (inv TestInventory) ToYAML() string {
	var sb strings.Builder

	sb.WriteString("version: 1\n")
	if inv.Transport != "" {
		sb.WriteString("defaults:\n")
		sb.WriteString(fmt.Sprintf("  transport: %s\n", inv.Transport))
	}

	sb.WriteString("hosts:\n")
	for _, h := range inv.Hosts {
		sb.WriteString(fmt.Sprintf("  %s:\n", h.Name))
		if len(h.Tags) > 0 {
			sb.WriteString(fmt.Sprintf("    tags: [%s]\n", strings.Join(h.Tags, ", ")))
		}
		if len(h.Groups) > 0 {
			sb.WriteString(fmt.Sprintf("    groups: [%s]\n", strings.Join(h.Groups, ", ")))
		}
		if len(h.Tags) == 0 && len(h.Groups) == 0 {
			sb.WriteString("    vars: {}\n")
		}
	}

	if len(inv.Groups) > 0 {
		names := make([]string, 0, len(inv.Groups))
		for name := range inv.Groups {
			names = append(names, name)
		}
		sort.Strings(names)

		sb.WriteString("groups:\n")
		for _, name := range names {
			sb.WriteString(fmt.Sprintf("  %s:\n", name))
			sb.WriteString(fmt.Sprintf("    description: %q\n", inv.Groups[name]))
		}
	}

	return sb.String()
}

// TestOperation is one operation of a change set fixture.
type TestOperation struct {
	ID     string
	Kind   string
	Fields [][2]string
}

// TestChangeSet is a simplified change set for tests.
type TestChangeSet struct {
	Name       string
	Operations []TestOperation
}

// ChangeSetBuilder builds change set fixtures.
type ChangeSetBuilder struct {
	changeSet TestChangeSet
}

// NewChangeSetBuilder creates a builder for a change set called name.
func NewChangeSetBuilder(name string) *ChangeSetBuilder {
	return &ChangeSetBuilder{changeSet: TestChangeSet{Name: name}}
}

// WithFile adds a file operation.
func (b *ChangeSetBuilder) WithFile(id, path, content string) *ChangeSetBuilder {
	return b.with(id, "file", [2]string{"path", path}, [2]string{"content", content})
}

// WithCommand adds a command operation guarded by unless.
func (b *ChangeSetBuilder) WithCommand(id, command, unless string) *ChangeSetBuilder {
	fields := [][2]string{{"command", command}}
	if unless != "" {
		fields = append(fields, [2]string{"unless", unless})
	}
	return b.with(id, "command", fields...)
}

// WithSymlink adds a symlink operation.
func (b *ChangeSetBuilder) WithSymlink(id, source, link string) *ChangeSetBuilder {
	return b.with(id, "symlink", [2]string{"source", source}, [2]string{"link", link})
}

func (b *ChangeSetBuilder) with(id, kind string, fields ...[2]string) *ChangeSetBuilder {
	b.changeSet.Operations = append(b.changeSet.Operations, TestOperation{ID: id, Kind: kind, Fields: fields})
	return b
}

// Build returns the constructed change set.
func (b *ChangeSetBuilder) Build() TestChangeSet {
	return b.changeSet
}

// ToYAML renders the change set file format. Values are always quoted.
func (cs TestChangeSet) ToYAML() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("name: %s\n", cs.Name))
	sb.WriteString("operations:\n")
	for _, op := range cs.Operations {
		sb.WriteString(fmt.Sprintf("  - id: %s\n", op.ID))
		sb.WriteString(fmt.Sprintf("    kind: %s\n", op.Kind))
		for _, f := range op.Fields {
			sb.WriteString(fmt.Sprintf("    %s: %q\n", f[0], f[1]))
		}
	}

	return sb.String()
}
