package fleet

import (
	"fmt"
	"regexp"
	"strings"
)

// GroupName is the identifier for a group of targets.
type GroupName string

var groupNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,62}[a-zA-Z0-9]?$`)

// NewGroupName creates a new group name, validating the format.
func NewGroupName(name string) (GroupName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("group name cannot be empty")
	}
	if !groupNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid group name %q: must be alphanumeric with hyphens/underscores, 1-64 chars", name)
	}
	return GroupName(name), nil
}

// String returns the group name as a string.
func (g GroupName) String() string {
	return string(g)
}

// Group is a named collection of targets. Members are targets that list the
// group directly, targets whose ID matches one of the host patterns, and the
// members of every child group.
type Group struct {
	name         GroupName
	description  string
	hostPatterns []string
	children     []GroupName
	vars         map[string]string
}

// NewGroup creates a new group with the given name.
func NewGroup(name GroupName) *Group {
	return &Group{
		name:         name,
		hostPatterns: []string{},
		children:     []GroupName{},
		vars:         map[string]string{},
	}
}

// Name returns the group name.
func (g *Group) Name() GroupName {
	return g.name
}

// Description returns the group description.
func (g *Group) Description() string {
	return g.description
}

// SetDescription sets the group description.
func (g *Group) SetDescription(desc string) {
	g.description = desc
}

// HostPatterns returns the host matching patterns.
func (g *Group) HostPatterns() []string {
	result := make([]string, len(g.hostPatterns))
	copy(result, g.hostPatterns)
	return result
}

// AddHostPattern adds a glob pattern matched against target IDs.
func (g *Group) AddHostPattern(pattern string) {
	if !containsString(g.hostPatterns, pattern) {
		g.hostPatterns = append(g.hostPatterns, pattern)
	}
}

// Children returns the nested group names.
func (g *Group) Children() []GroupName {
	result := make([]GroupName, len(g.children))
	copy(result, g.children)
	return result
}

// AddChild nests another group inside this one.
func (g *Group) AddChild(child GroupName) {
	for _, c := range g.children {
		if c == child {
			return
		}
	}
	g.children = append(g.children, child)
}

// Vars returns the group variables.
func (g *Group) Vars() map[string]string {
	result := make(map[string]string, len(g.vars))
	for k, v := range g.vars {
		result[k] = v
	}
	return result
}

// SetVar sets a group variable.
func (g *Group) SetVar(key, value string) {
	g.vars[key] = value
}

// GroupSummary is a read-only summary of a group.
type GroupSummary struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	HostPatterns []string `json:"host_patterns,omitempty" yaml:"host_patterns,omitempty"`
	Children     []string `json:"children,omitempty" yaml:"children,omitempty"`
}

// Summary returns a read-only summary of the group.
func (g *Group) Summary() GroupSummary {
	children := make([]string, len(g.children))
	for i, c := range g.children {
		children[i] = c.String()
	}
	return GroupSummary{
		Name:         g.name.String(),
		Description:  g.description,
		HostPatterns: g.HostPatterns(),
		Children:     children,
	}
}
