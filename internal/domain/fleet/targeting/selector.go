package targeting

import (
	"fmt"
	"strings"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
)

// SelectorType indicates the type of selector.
type SelectorType string

const (
	// SelectorTypeAll selects all targets.
	SelectorTypeAll SelectorType = "all"
	// SelectorTypeGroup selects targets by group name.
	SelectorTypeGroup SelectorType = "group"
	// SelectorTypeTag selects targets by tag.
	SelectorTypeTag SelectorType = "tag"
	// SelectorTypePattern selects targets by ID pattern.
	SelectorTypePattern SelectorType = "pattern"
	// SelectorTypeTarget selects a single target by ID.
	SelectorTypeTarget SelectorType = "target"
)

// Selector is one term of a targeting expression.
type Selector struct {
	selectorType SelectorType
	value        string
	pattern      *Pattern
	negate       bool
}

// NewSelector parses a single selector term.
// Supported formats:
//   - @all or * - every target
//   - @groupname - group members, including child groups
//   - tag:tagname - targets carrying the tag
//   - glob or ~regex - targets whose ID matches
//   - host-a - a single target by ID
//   - !term - exclude whatever term matches
func NewSelector(term string) (*Selector, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("selector cannot be empty")
	}

	s := &Selector{}

	if strings.HasPrefix(term, "!") {
		s.negate = true
		term = term[1:]
	}

	switch {
	case term == "@all" || term == "*":
		s.selectorType = SelectorTypeAll
		s.value = "all"

	case strings.HasPrefix(term, "@"):
		s.selectorType = SelectorTypeGroup
		s.value = term[1:]
		if _, err := fleet.NewGroupName(s.value); err != nil {
			return nil, err
		}

	case strings.HasPrefix(term, "tag:"):
		s.selectorType = SelectorTypeTag
		s.value = term[4:]
		if _, err := fleet.NewTag(s.value); err != nil {
			return nil, err
		}

	case strings.ContainsAny(term, "*?[") || strings.HasPrefix(term, "~"):
		s.selectorType = SelectorTypePattern
		s.value = term
		pattern, err := NewPattern(term)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		s.pattern = pattern

	default:
		s.selectorType = SelectorTypeTarget
		s.value = term
		if _, err := fleet.NewTargetID(term); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Type returns the selector type.
func (s *Selector) Type() SelectorType {
	return s.selectorType
}

// Value returns the selector value.
func (s *Selector) Value() string {
	return s.value
}

// IsNegated returns true if this selector excludes matches.
func (s *Selector) IsNegated() bool {
	return s.negate
}

// Select returns targets from the inventory matching this selector,
// ignoring negation.
func (s *Selector) Select(inv *fleet.Inventory) []*fleet.Target {
	switch s.selectorType {
	case SelectorTypeAll:
		return inv.All()
	case SelectorTypeGroup:
		return inv.TargetsByGroup(fleet.GroupName(s.value))
	case SelectorTypeTag:
		return inv.TargetsByTag(fleet.Tag(s.value))
	case SelectorTypePattern:
		var targets []*fleet.Target
		for _, target := range inv.All() {
			if s.pattern.Match(target.ID().String()) {
				targets = append(targets, target)
			}
		}
		return targets
	case SelectorTypeTarget:
		if target, ok := inv.GetTarget(fleet.TargetID(s.value)); ok {
			return []*fleet.Target{target}
		}
	}
	return nil
}

// String returns the canonical form of the selector.
func (s *Selector) String() string {
	prefix := ""
	if s.negate {
		prefix = "!"
	}

	switch s.selectorType {
	case SelectorTypeAll:
		return prefix + "@all"
	case SelectorTypeGroup:
		return prefix + "@" + s.value
	case SelectorTypeTag:
		return prefix + "tag:" + s.value
	default:
		return prefix + s.value
	}
}

// Expression is a complete targeting expression: the union of its include
// selectors minus the union of its exclude selectors.
type Expression struct {
	includes []*Selector
	excludes []*Selector
}

// NewExpression creates an expression from selector terms.
// An expression with only excludes starts from @all.
func NewExpression(terms ...string) (*Expression, error) {
	e := &Expression{}

	for _, term := range terms {
		selector, err := NewSelector(term)
		if err != nil {
			return nil, err
		}
		if selector.IsNegated() {
			e.excludes = append(e.excludes, selector)
		} else {
			e.includes = append(e.includes, selector)
		}
	}

	if len(e.includes) == 0 && len(e.excludes) > 0 {
		all, _ := NewSelector("@all")
		e.includes = append(e.includes, all)
	}

	return e, nil
}

// Parse splits a comma or whitespace separated expression such as
// "@ai_worker,!host-c" into terms and builds the Expression.
func Parse(expr string) (*Expression, error) {
	terms := strings.FieldsFunc(expr, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(terms) == 0 {
		return nil, fmt.Errorf("target expression cannot be empty")
	}
	return NewExpression(terms...)
}

// Select returns matching targets sorted by ID.
func (e *Expression) Select(inv *fleet.Inventory) []*fleet.Target {
	included := make(map[fleet.TargetID]*fleet.Target)
	for _, selector := range e.includes {
		for _, target := range selector.Select(inv) {
			included[target.ID()] = target
		}
	}

	for _, selector := range e.excludes {
		for _, target := range selector.Select(inv) {
			delete(included, target.ID())
		}
	}

	result := make([]*fleet.Target, 0, len(included))
	for _, target := range included {
		result = append(result, target)
	}
	return fleet.SortTargets(result)
}

// Includes returns the include selectors.
func (e *Expression) Includes() []*Selector {
	return e.includes
}

// Excludes returns the exclude selectors.
func (e *Expression) Excludes() []*Selector {
	return e.excludes
}

// String returns the canonical form of the expression.
func (e *Expression) String() string {
	parts := make([]string, 0, len(e.includes)+len(e.excludes))
	for _, s := range e.includes {
		parts = append(parts, s.String())
	}
	for _, s := range e.excludes {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ",")
}
