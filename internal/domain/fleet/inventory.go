package fleet

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Inventory is the aggregate root for the target fleet.
// It holds targets and groups and answers membership queries. Every query
// returns targets sorted by ID so reports are deterministic.
type Inventory struct {
	mu       sync.RWMutex
	targets  map[TargetID]*Target
	groups   map[GroupName]*Group
	defaults ConnParams
}

// NewInventory creates a new empty inventory.
func NewInventory() *Inventory {
	return &Inventory{
		targets: make(map[TargetID]*Target),
		groups:  make(map[GroupName]*Group),
		defaults: ConnParams{
			Port:           22,
			User:           "root",
			ConnectTimeout: 30 * time.Second,
			Transport:      TransportSSH,
		},
	}
}

// SetDefaults sets the default connection parameters.
func (i *Inventory) SetDefaults(defaults ConnParams) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.defaults = defaults
}

// Defaults returns the default connection parameters.
func (i *Inventory) Defaults() ConnParams {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.defaults
}

// AddTarget adds a target to the inventory.
func (i *Inventory) AddTarget(target *Target) error {
	if target == nil {
		return fmt.Errorf("target cannot be nil")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.targets[target.ID()]; exists {
		return fmt.Errorf("target %q already exists", target.ID())
	}
	i.targets[target.ID()] = target
	return nil
}

// GetTarget returns a target by ID.
func (i *Inventory) GetTarget(id TargetID) (*Target, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	target, ok := i.targets[id]
	return target, ok
}

// All returns all targets sorted by ID.
func (i *Inventory) All() []*Target {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collectLocked(func(*Target) bool { return true })
}

// TargetCount returns the number of targets.
func (i *Inventory) TargetCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.targets)
}

// AddGroup adds a group to the inventory.
func (i *Inventory) AddGroup(group *Group) error {
	if group == nil {
		return fmt.Errorf("group cannot be nil")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, exists := i.groups[group.Name()]; exists {
		return fmt.Errorf("group %q already exists", group.Name())
	}
	i.groups[group.Name()] = group
	return nil
}

// GetGroup returns a group by name.
func (i *Inventory) GetGroup(name GroupName) (*Group, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	group, ok := i.groups[name]
	return group, ok
}

// AllGroups returns all groups sorted by name.
func (i *Inventory) AllGroups() []*Group {
	i.mu.RLock()
	defer i.mu.RUnlock()
	groups := make([]*Group, 0, len(i.groups))
	for _, group := range i.groups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Name() < groups[b].Name() })
	return groups
}

// GroupCount returns the number of groups.
func (i *Inventory) GroupCount() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.groups)
}

// TargetsByTag returns all targets with a specific tag.
func (i *Inventory) TargetsByTag(tag Tag) []*Target {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collectLocked(func(t *Target) bool { return t.HasTag(tag) })
}

// TargetsByGroup returns the members of a group, including members of its
// child groups. Unknown groups still match targets that list the name
// directly, so an inventory may use groups without declaring them.
func (i *Inventory) TargetsByGroup(name GroupName) []*Target {
	i.mu.RLock()
	defer i.mu.RUnlock()

	members := make(map[TargetID]bool)
	i.resolveGroupLocked(name, make(map[GroupName]bool), members)
	return i.collectLocked(func(t *Target) bool { return members[t.ID()] })
}

func (i *Inventory) resolveGroupLocked(name GroupName, visited map[GroupName]bool, members map[TargetID]bool) {
	if visited[name] {
		return
	}
	visited[name] = true

	group := i.groups[name]
	for id, target := range i.targets {
		if target.InGroup(name.String()) {
			members[id] = true
			continue
		}
		if group == nil {
			continue
		}
		for _, pattern := range group.hostPatterns {
			if matched, _ := filepath.Match(pattern, id.String()); matched {
				members[id] = true
				break
			}
		}
	}

	if group == nil {
		return
	}
	for _, child := range group.children {
		i.resolveGroupLocked(child, visited, members)
	}
}

// TargetsByPattern returns targets whose ID matches a glob pattern.
func (i *Inventory) TargetsByPattern(pattern string) []*Target {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.collectLocked(func(t *Target) bool {
		matched, err := filepath.Match(pattern, t.ID().String())
		return err == nil && matched
	})
}

func (i *Inventory) collectLocked(keep func(*Target) bool) []*Target {
	result := make([]*Target, 0, len(i.targets))
	for _, target := range i.targets {
		if keep(target) {
			result = append(result, target)
		}
	}
	return SortTargets(result)
}

// InventorySummary is a read-only summary of the inventory.
type InventorySummary struct {
	TargetCount    int            `json:"target_count"`
	GroupCount     int            `json:"group_count"`
	TransportCount map[string]int `json:"transport_counts"`
	TagCounts      map[string]int `json:"tag_counts"`
}

// Summary returns a summary of the inventory.
func (i *Inventory) Summary() InventorySummary {
	i.mu.RLock()
	defer i.mu.RUnlock()

	summary := InventorySummary{
		TargetCount:    len(i.targets),
		GroupCount:     len(i.groups),
		TransportCount: make(map[string]int),
		TagCounts:      make(map[string]int),
	}

	for _, target := range i.targets {
		summary.TransportCount[target.conn.Transport]++
		for _, tag := range target.tags {
			summary.TagCounts[tag.String()]++
		}
	}

	return summary
}
