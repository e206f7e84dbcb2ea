package fleet

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// TargetID uniquely identifies a target within an inventory.
type TargetID string

var targetIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// NewTargetID creates a new target ID, validating the format.
func NewTargetID(id string) (TargetID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("target ID cannot be empty")
	}
	if !targetIDPattern.MatchString(id) {
		return "", fmt.Errorf("invalid target ID %q: must be alphanumeric with hyphens/dots/underscores, 1-64 chars", id)
	}
	return TargetID(id), nil
}

// String returns the target ID as a string.
func (id TargetID) String() string {
	return string(id)
}

// Transport names understood by the transport registry.
const (
	TransportSSH   = "ssh"
	TransportLocal = "local"
)

// ConnParams holds how to reach a target.
type ConnParams struct {
	// Hostname is the address to connect to. Defaults to the target ID.
	Hostname string `yaml:"hostname" json:"hostname"`
	// User is the remote login user.
	User string `yaml:"user" json:"user"`
	// Port is the SSH port (default 22).
	Port int `yaml:"port" json:"port"`
	// IdentityFile is the path to the SSH private key.
	IdentityFile string `yaml:"ssh_key,omitempty" json:"ssh_key,omitempty"`
	// ProxyJump is an optional jump host (host:port).
	ProxyJump string `yaml:"proxy_jump,omitempty" json:"proxy_jump,omitempty"`
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	// Transport selects the transport implementation ("ssh" or "local").
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`
}

// Validate validates the connection parameters.
func (c ConnParams) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	switch c.Transport {
	case "", TransportSSH, TransportLocal:
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	return nil
}

// WithDefaults returns a copy with unset values filled from defaults and
// then from built-in fallbacks.
func (c ConnParams) WithDefaults(defaults ConnParams) ConnParams {
	if c.User == "" {
		c.User = defaults.User
	}
	if c.Port == 0 {
		c.Port = defaults.Port
	}
	if c.IdentityFile == "" {
		c.IdentityFile = defaults.IdentityFile
	}
	if c.ProxyJump == "" {
		c.ProxyJump = defaults.ProxyJump
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.Transport == "" {
		c.Transport = defaults.Transport
	}

	if c.Port == 0 {
		c.Port = 22
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.Transport == "" {
		c.Transport = TransportSSH
	}
	return c
}

// Target is an addressable host subject to configuration changes.
// A Target is immutable once built; all accessors return copies.
type Target struct {
	id     TargetID
	conn   ConnParams
	tags   Tags
	groups []string
	vars   map[string]string
}

// ID returns the target's unique identifier.
func (t *Target) ID() TargetID {
	return t.id
}

// Conn returns the connection parameters.
func (t *Target) Conn() ConnParams {
	return t.conn
}

// Tags returns the target's tags.
func (t *Target) Tags() Tags {
	result := make(Tags, len(t.tags))
	copy(result, t.tags)
	return result
}

// Groups returns the groups the target is a direct member of.
func (t *Target) Groups() []string {
	result := make([]string, len(t.groups))
	copy(result, t.groups)
	return result
}

// Vars returns the target's variables.
func (t *Target) Vars() map[string]string {
	result := make(map[string]string, len(t.vars))
	for k, v := range t.vars {
		result[k] = v
	}
	return result
}

// InGroup checks direct membership of a group.
func (t *Target) InGroup(group string) bool {
	for _, g := range t.groups {
		if g == group {
			return true
		}
	}
	return false
}

// HasTag checks if the target has a specific tag.
func (t *Target) HasTag(tag Tag) bool {
	return t.tags.Contains(tag)
}

// TargetBuilder accumulates the attributes of a Target before it is frozen.
type TargetBuilder struct {
	id     TargetID
	conn   ConnParams
	tags   []string
	groups []string
	vars   map[string]string
}

// NewTargetBuilder starts building a target with the given ID.
func NewTargetBuilder(id TargetID) *TargetBuilder {
	return &TargetBuilder{id: id, vars: make(map[string]string)}
}

// Conn sets the connection parameters.
func (b *TargetBuilder) Conn(conn ConnParams) *TargetBuilder {
	b.conn = conn
	return b
}

// Tag adds tags.
func (b *TargetBuilder) Tag(names ...string) *TargetBuilder {
	b.tags = append(b.tags, names...)
	return b
}

// Group adds direct group memberships.
func (b *TargetBuilder) Group(names ...string) *TargetBuilder {
	for _, name := range names {
		if !containsString(b.groups, name) {
			b.groups = append(b.groups, name)
		}
	}
	return b
}

// Var sets a variable.
func (b *TargetBuilder) Var(key, value string) *TargetBuilder {
	b.vars[key] = value
	return b
}

// Build validates and freezes the target. Defaults fill unset connection values.
func (b *TargetBuilder) Build(defaults ConnParams) (*Target, error) {
	conn := b.conn
	if conn.Hostname == "" {
		conn.Hostname = b.id.String()
	}
	conn = conn.WithDefaults(defaults)
	if err := conn.Validate(); err != nil {
		return nil, fmt.Errorf("target %s: invalid connection params: %w", b.id, err)
	}

	tags, err := NewTags(b.tags...)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", b.id, err)
	}

	groups := make([]string, len(b.groups))
	copy(groups, b.groups)
	sort.Strings(groups)

	vars := make(map[string]string, len(b.vars))
	for k, v := range b.vars {
		vars[k] = v
	}

	return &Target{
		id:     b.id,
		conn:   conn,
		tags:   tags,
		groups: groups,
		vars:   vars,
	}, nil
}

// TargetSummary is a read-only view of a target for output.
type TargetSummary struct {
	ID        TargetID `json:"id" yaml:"id"`
	Hostname  string   `json:"hostname" yaml:"hostname"`
	User      string   `json:"user" yaml:"user"`
	Port      int      `json:"port" yaml:"port"`
	Transport string   `json:"transport" yaml:"transport"`
	Tags      []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Groups    []string `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// Summary returns a read-only summary of the target.
func (t *Target) Summary() TargetSummary {
	return TargetSummary{
		ID:        t.id,
		Hostname:  t.conn.Hostname,
		User:      t.conn.User,
		Port:      t.conn.Port,
		Transport: t.conn.Transport,
		Tags:      t.tags.Strings(),
		Groups:    t.Groups(),
	}
}

// IDs returns the identifiers of the given targets in order.
func IDs(targets []*Target) []TargetID {
	ids := make([]TargetID, len(targets))
	for i, t := range targets {
		ids[i] = t.ID()
	}
	return ids
}

// SortTargets orders targets by ID in place and returns the slice.
func SortTargets(targets []*Target) []*Target {
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID() < targets[j].ID() })
	return targets
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
