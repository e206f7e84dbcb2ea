package inventory

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"gopkg.in/ini.v1"
)

// Ansible connection variables understood by the INI loader. Anything else
// becomes a target var.
const (
	varHost       = "ansible_host"
	varUser       = "ansible_user"
	varPort       = "ansible_port"
	varKey        = "ansible_ssh_private_key_file"
	varConnection = "ansible_connection"
	varSSHArgs    = "ansible_ssh_common_args"
	varTags       = "rollgate_tags"
)

var legacyVars = map[string]string{
	"ansible_ssh_host": varHost,
	"ansible_ssh_user": varUser,
	"ansible_ssh_port": varPort,
}

var (
	proxyJumpArg = regexp.MustCompile(`ProxyJump=(\S+)`)
	hostRange    = regexp.MustCompile(`^(.*)\[(\d+):(\d+)\](.*)$`)
)

const (
	groupAll       = "all"
	groupUngrouped = "ungrouped"
)

type iniInventory struct {
	hosts     []string
	hostVars  map[string]map[string]string
	direct    map[string][]string
	groups    map[string]bool
	parents   map[string][]string
	children  map[string][]string
	groupVars map[string]map[string]string
}

func parseINI(data []byte) (*fleet.Inventory, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:   true,
		KeyValueDelimiters: " =",
	}, data)
	if err != nil {
		return nil, syntaxError{err}
	}

	raw := &iniInventory{
		hostVars:  make(map[string]map[string]string),
		direct:    make(map[string][]string),
		groups:    make(map[string]bool),
		parents:   make(map[string][]string),
		children:  make(map[string][]string),
		groupVars: make(map[string]map[string]string),
	}
	for _, section := range file.Sections() {
		if err := raw.addSection(section); err != nil {
			return nil, err
		}
	}
	return raw.toInventory()
}

func (r *iniInventory) addSection(section *ini.Section) error {
	name := section.Name()
	switch {
	case strings.HasSuffix(name, ":children"):
		parent := strings.TrimSuffix(name, ":children")
		r.groups[parent] = true
		for _, key := range section.Keys() {
			child := key.Name()
			r.groups[child] = true
			r.parents[child] = appendUnique(r.parents[child], parent)
			r.children[parent] = appendUnique(r.children[parent], child)
		}
	case strings.HasSuffix(name, ":vars"):
		group := strings.TrimSuffix(name, ":vars")
		if group != groupAll {
			r.groups[group] = true
		}
		vars := r.groupVars[group]
		if vars == nil {
			vars = make(map[string]string)
			r.groupVars[group] = vars
		}
		for _, key := range section.Keys() {
			vars[key.Name()] = unquote(strings.TrimLeft(key.Value(), "= \t"))
		}
	default:
		group := name
		if group == ini.DefaultSection {
			group = ""
		} else if group != groupAll && group != groupUngrouped {
			r.groups[group] = true
		}
		for _, key := range section.Keys() {
			hosts, err := expandHosts(key.Name())
			if err != nil {
				return fmt.Errorf("[%s]: %w", name, err)
			}
			vars := parseHostVars(key.Value())
			for _, host := range hosts {
				r.addHost(host, group, vars)
			}
		}
	}
	return nil
}

func (r *iniInventory) addHost(host, group string, vars map[string]string) {
	existing, ok := r.hostVars[host]
	if !ok {
		r.hosts = append(r.hosts, host)
		existing = make(map[string]string)
		r.hostVars[host] = existing
	}
	for k, v := range vars {
		existing[k] = v
	}
	if group != "" && group != groupAll && group != groupUngrouped {
		r.direct[host] = appendUnique(r.direct[host], group)
	}
}

// varsFor merges variables for a host: all, then ancestor groups from the
// farthest to the nearest, then the host line itself.
func (r *iniInventory) varsFor(host string) map[string]string {
	depth := make(map[string]int)
	queue := append([]string(nil), r.direct[host]...)
	for _, g := range queue {
		depth[g] = 1
	}
	for len(queue) > 0 {
		g := queue[0]
		queue = queue[1:]
		for _, parent := range r.parents[g] {
			if _, seen := depth[parent]; seen {
				continue
			}
			depth[parent] = depth[g] + 1
			queue = append(queue, parent)
		}
	}

	ordered := make([]string, 0, len(depth))
	for g := range depth {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if depth[ordered[i]] != depth[ordered[j]] {
			return depth[ordered[i]] > depth[ordered[j]]
		}
		return ordered[i] < ordered[j]
	})

	merged := make(map[string]string)
	for k, v := range r.groupVars[groupAll] {
		merged[k] = v
	}
	for _, g := range ordered {
		for k, v := range r.groupVars[g] {
			merged[k] = v
		}
	}
	for k, v := range r.hostVars[host] {
		merged[k] = v
	}
	for legacy, current := range legacyVars {
		if v, ok := merged[legacy]; ok {
			if _, set := merged[current]; !set {
				merged[current] = v
			}
			delete(merged, legacy)
		}
	}
	return merged
}

func (r *iniInventory) toInventory() (*fleet.Inventory, error) {
	inv := fleet.NewInventory()
	defaults := inv.Defaults()

	for _, host := range r.hosts {
		id, err := fleet.NewTargetID(host)
		if err != nil {
			return nil, err
		}

		vars := r.varsFor(host)
		conn, err := connFromVars(host, vars)
		if err != nil {
			return nil, err
		}

		b := fleet.NewTargetBuilder(id).Conn(conn).Group(r.direct[host]...)
		if tags, ok := vars[varTags]; ok {
			delete(vars, varTags)
			for _, tag := range strings.Split(tags, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					b.Tag(tag)
				}
			}
		}
		for k, v := range vars {
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

	for _, name := range sortedKeys(r.groups) {
		groupName, err := fleet.NewGroupName(name)
		if err != nil {
			return nil, err
		}
		group := fleet.NewGroup(groupName)
		for _, child := range r.children[name] {
			childName, err := fleet.NewGroupName(child)
			if err != nil {
				return nil, err
			}
			group.AddChild(childName)
		}
		for k, v := range r.groupVars[name] {
			group.SetVar(k, v)
		}
		if err := inv.AddGroup(group); err != nil {
			return nil, err
		}
	}
	return inv, nil
}

// connFromVars consumes the connection variables from vars.
func connFromVars(host string, vars map[string]string) (fleet.ConnParams, error) {
	var conn fleet.ConnParams
	take := func(key string) (string, bool) {
		v, ok := vars[key]
		delete(vars, key)
		return v, ok
	}

	if v, ok := take(varHost); ok {
		conn.Hostname = v
	}
	if v, ok := take(varUser); ok {
		conn.User = v
	}
	if v, ok := take(varPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return conn, fmt.Errorf("host %s: invalid %s %q", host, varPort, v)
		}
		conn.Port = port
	}
	if v, ok := take(varKey); ok {
		conn.IdentityFile = v
	}
	if v, ok := take(varConnection); ok {
		switch v {
		case "local":
			conn.Transport = fleet.TransportLocal
		case "ssh", "smart", "paramiko":
			conn.Transport = fleet.TransportSSH
		default:
			return conn, fmt.Errorf("host %s: unsupported %s %q", host, varConnection, v)
		}
	}
	if v, ok := vars[varSSHArgs]; ok {
		if m := proxyJumpArg.FindStringSubmatch(v); m != nil {
			conn.ProxyJump = m[1]
			delete(vars, varSSHArgs)
		}
	}
	return conn, nil
}

// parseHostVars splits "k1=v1 k2='v 2'" into a map.
func parseHostVars(s string) map[string]string {
	vars := make(map[string]string)
	for _, field := range splitFields(s) {
		k, v, ok := strings.Cut(field, "=")
		if !ok || k == "" {
			continue
		}
		vars[k] = unquote(v)
	}
	return vars
}

func splitFields(s string) []string {
	var fields []string
	var cur strings.Builder
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			cur.WriteRune(r)
		case r == '\'' || r == '"':
			quote = r
			cur.WriteRune(r)
		case r == ' ' || r == '\t':
			if cur.Len() > 0 {
				fields = append(fields, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// expandHosts expands a numeric range such as gpu-[01:03].
func expandHosts(name string) ([]string, error) {
	m := hostRange.FindStringSubmatch(name)
	if m == nil {
		return []string{name}, nil
	}
	start, _ := strconv.Atoi(m[2])
	end, _ := strconv.Atoi(m[3])
	if end < start {
		return nil, fmt.Errorf("invalid host range %q", name)
	}
	width := 0
	if strings.HasPrefix(m[2], "0") && len(m[2]) > 1 {
		width = len(m[2])
	}
	hosts := make([]string, 0, end-start+1)
	for n := start; n <= end; n++ {
		hosts = append(hosts, fmt.Sprintf("%s%0*d%s", m[1], width, n, m[4]))
	}
	return hosts, nil
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
