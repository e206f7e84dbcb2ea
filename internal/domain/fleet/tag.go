// Package fleet provides the target inventory for gated rollouts: addressable
// hosts, their connection parameters, tags and group memberships.
package fleet

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Tag is a label attached to targets for selection.
type Tag string

// tagPattern: lowercase alphanumeric with hyphens, max 64 chars, starting
// with a letter and not ending with a hyphen.
var tagPattern = regexp.MustCompile(`^[a-z]([a-z0-9-]{0,62}[a-z0-9])?$`)

// NewTag creates a new tag, validating the format.
func NewTag(name string) (Tag, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("tag name cannot be empty")
	}
	if !tagPattern.MatchString(name) {
		return "", fmt.Errorf("invalid tag name %q: must be lowercase alphanumeric with hyphens, 1-64 chars", name)
	}
	return Tag(name), nil
}

// String returns the tag name.
func (t Tag) String() string {
	return string(t)
}

// Tags is a deduplicated, sorted set of tags.
type Tags []Tag

// NewTags creates a Tags set from string names.
func NewTags(names ...string) (Tags, error) {
	seen := make(map[Tag]bool, len(names))
	tags := make(Tags, 0, len(names))
	for _, name := range names {
		tag, err := NewTag(name)
		if err != nil {
			return nil, err
		}
		if !seen[tag] {
			tags = append(tags, tag)
			seen[tag] = true
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags, nil
}

// Contains checks if a tag is in the set.
func (t Tags) Contains(tag Tag) bool {
	for _, existing := range t {
		if existing == tag {
			return true
		}
	}
	return false
}

// Strings returns the tags as a slice of strings.
func (t Tags) Strings() []string {
	result := make([]string, len(t))
	for i, tag := range t {
		result[i] = tag.String()
	}
	return result
}
