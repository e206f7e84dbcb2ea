package inventory

import (
	"fmt"
	"sort"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"gopkg.in/yaml.v3"
)

// File is the YAML inventory shape.
type File struct {
	Version  int                    `yaml:"version"`
	Hosts    map[string]HostConfig  `yaml:"hosts"`
	Groups   map[string]GroupConfig `yaml:"groups"`
	Defaults DefaultsConfig         `yaml:"defaults"`
}

// HostConfig is one host entry.
type HostConfig struct {
	Hostname  string            `yaml:"hostname"`
	User      string            `yaml:"user"`
	Port      int               `yaml:"port"`
	SSHKey    string            `yaml:"ssh_key"`
	ProxyJump string            `yaml:"proxy_jump"`
	Transport string            `yaml:"transport"`
	Tags      []string          `yaml:"tags"`
	Groups    []string          `yaml:"groups"`
	Vars      map[string]string `yaml:"vars"`
}

// GroupConfig is one group entry. Hosts are glob patterns over target IDs.
type GroupConfig struct {
	Description string            `yaml:"description"`
	Hosts       []string          `yaml:"hosts"`
	Children    []string          `yaml:"children"`
	Vars        map[string]string `yaml:"vars"`
}

// DefaultsConfig holds connection settings applied to every host that does
// not set its own.
type DefaultsConfig struct {
	User       string        `yaml:"user"`
	Port       int           `yaml:"port"`
	SSHKey     string        `yaml:"ssh_key"`
	ProxyJump  string        `yaml:"proxy_jump"`
	SSHTimeout time.Duration `yaml:"ssh_timeout"`
	Transport  string        `yaml:"transport"`
}

func parseYAML(data []byte) (*fleet.Inventory, error) {
	var raw File
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, syntaxError{err}
	}
	return raw.ToInventory()
}

// ToInventory converts the file to a domain Inventory.
func (f *File) ToInventory() (*fleet.Inventory, error) {
	inv := fleet.NewInventory()
	defaults := inv.Defaults()
	d := f.Defaults
	if d.User != "" {
		defaults.User = d.User
	}
	if d.Port != 0 {
		defaults.Port = d.Port
	}
	if d.SSHKey != "" {
		defaults.IdentityFile = d.SSHKey
	}
	if d.ProxyJump != "" {
		defaults.ProxyJump = d.ProxyJump
	}
	if d.SSHTimeout != 0 {
		defaults.ConnectTimeout = d.SSHTimeout
	}
	if d.Transport != "" {
		defaults.Transport = d.Transport
	}
	inv.SetDefaults(defaults)

	for _, name := range sortedKeys(f.Hosts) {
		cfg := f.Hosts[name]
		id, err := fleet.NewTargetID(name)
		if err != nil {
			return nil, fmt.Errorf("hosts.%s: %w", name, err)
		}

		b := fleet.NewTargetBuilder(id).
			Conn(fleet.ConnParams{
				Hostname:     cfg.Hostname,
				User:         cfg.User,
				Port:         cfg.Port,
				IdentityFile: cfg.SSHKey,
				ProxyJump:    cfg.ProxyJump,
				Transport:    cfg.Transport,
			}).
			Tag(cfg.Tags...).
			Group(cfg.Groups...)
		for k, v := range cfg.Vars {
			b.Var(k, v)
		}

		target, err := b.Build(defaults)
		if err != nil {
			return nil, err
		}
		if err := inv.AddTarget(target); err != nil {
			return nil, err
		}
	}

	for _, name := range sortedKeys(f.Groups) {
		cfg := f.Groups[name]
		groupName, err := fleet.NewGroupName(name)
		if err != nil {
			return nil, fmt.Errorf("groups.%s: %w", name, err)
		}

		group := fleet.NewGroup(groupName)
		group.SetDescription(cfg.Description)
		for _, pattern := range cfg.Hosts {
			group.AddHostPattern(pattern)
		}
		for _, child := range cfg.Children {
			childName, err := fleet.NewGroupName(child)
			if err != nil {
				return nil, fmt.Errorf("groups.%s.children: %w", name, err)
			}
			group.AddChild(childName)
		}
		for k, v := range cfg.Vars {
			group.SetVar(k, v)
		}

		if err := inv.AddGroup(group); err != nil {
			return nil, err
		}
	}

	return inv, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
