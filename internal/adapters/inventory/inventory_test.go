package inventory

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/rollgate/internal/config"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet"
	"github.com/felixgeelhaar/rollgate/internal/domain/fleet/targeting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlFixture = `
version: 1
defaults:
  user: deploy
  port: 2222
  ssh_key: ~/.ssh/deploy
  ssh_timeout: 10s
hosts:
  gpu-01:
    hostname: 10.0.0.11
    tags: [gpu, eu]
    groups: [ai_worker]
    vars:
      driver: "535"
  gpu-02:
    hostname: 10.0.0.12
    user: ubuntu
    tags: [gpu]
    groups: [ai_worker]
  web-01:
    hostname: 10.0.1.10
    port: 22
  builder:
    transport: local
groups:
  ai_worker:
    description: GPU inference nodes
  web:
    hosts: ["web-*"]
  production:
    children: [ai_worker, web]
`

const iniFixture = `
# bundle inventory
bastion ansible_connection=local

[ai_worker]
gpu-[01:03] ansible_port=2200
gpu-04 ansible_host=10.0.0.14 ansible_user=root rollgate_tags=gpu,canary

[ai_worker:vars]
ansible_user=ubuntu
driver = 535

[web]
web-01 ansible_ssh_host=10.0.1.10 ansible_ssh_common_args='-o ProxyJump=bastion.example.com'

[production:children]
ai_worker
web

[production:vars]
driver=470
env=prod

[all:vars]
ansible_ssh_private_key_file=/keys/id_ed25519
`

func targetIDs(targets []*fleet.Target) []string {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.ID().String()
	}
	return ids
}

func TestParse_YAML(t *testing.T) {
	t.Parallel()

	inv, err := Parse(FormatYAML, []byte(yamlFixture), "fleet.yaml")
	require.NoError(t, err)

	assert.Equal(t, 4, inv.TargetCount())
	assert.Equal(t, 3, inv.GroupCount())

	gpu1, ok := inv.GetTarget("gpu-01")
	require.True(t, ok)
	conn := gpu1.Conn()
	assert.Equal(t, "10.0.0.11", conn.Hostname)
	assert.Equal(t, "deploy", conn.User)
	assert.Equal(t, 2222, conn.Port)
	assert.Equal(t, "~/.ssh/deploy", conn.IdentityFile)
	assert.Equal(t, 10*time.Second, conn.ConnectTimeout)
	assert.Equal(t, fleet.TransportSSH, conn.Transport)
	assert.Equal(t, []string{"eu", "gpu"}, gpu1.Tags().Strings())
	assert.Equal(t, map[string]string{"driver": "535"}, gpu1.Vars())

	gpu2, _ := inv.GetTarget("gpu-02")
	assert.Equal(t, "ubuntu", gpu2.Conn().User)

	web, _ := inv.GetTarget("web-01")
	assert.Equal(t, 22, web.Conn().Port)

	builder, _ := inv.GetTarget("builder")
	assert.Equal(t, fleet.TransportLocal, builder.Conn().Transport)
	assert.Equal(t, "builder", builder.Conn().Hostname)

	assert.Equal(t, []string{"gpu-01", "gpu-02"}, targetIDs(inv.TargetsByGroup("ai_worker")))
	assert.Equal(t, []string{"web-01"}, targetIDs(inv.TargetsByGroup("web")))
	assert.Equal(t, []string{"gpu-01", "gpu-02", "web-01"}, targetIDs(inv.TargetsByGroup("production")))

	group, ok := inv.GetGroup("ai_worker")
	require.True(t, ok)
	assert.Equal(t, "GPU inference nodes", group.Description())
}

func TestParse_INI(t *testing.T) {
	t.Parallel()

	inv, err := Parse(FormatINI, []byte(iniFixture), "hosts")
	require.NoError(t, err)

	assert.Equal(t, []string{"bastion", "gpu-01", "gpu-02", "gpu-03", "gpu-04", "web-01"}, targetIDs(inv.All()))

	bastion, _ := inv.GetTarget("bastion")
	assert.Equal(t, fleet.TransportLocal, bastion.Conn().Transport)
	assert.Empty(t, bastion.Groups())
	assert.Equal(t, "/keys/id_ed25519", bastion.Conn().IdentityFile)

	gpu2, ok := inv.GetTarget("gpu-02")
	require.True(t, ok)
	assert.Equal(t, "gpu-02", gpu2.Conn().Hostname)
	assert.Equal(t, 2200, gpu2.Conn().Port)
	assert.Equal(t, "ubuntu", gpu2.Conn().User)
	assert.Equal(t, "/keys/id_ed25519", gpu2.Conn().IdentityFile)
	assert.Equal(t, []string{"ai_worker"}, gpu2.Groups())
	assert.Equal(t, map[string]string{"driver": "535", "env": "prod"}, gpu2.Vars())

	gpu4, _ := inv.GetTarget("gpu-04")
	assert.Equal(t, "10.0.0.14", gpu4.Conn().Hostname)
	assert.Equal(t, "root", gpu4.Conn().User)
	assert.Equal(t, 22, gpu4.Conn().Port)
	assert.Equal(t, []string{"canary", "gpu"}, gpu4.Tags().Strings())

	web, _ := inv.GetTarget("web-01")
	assert.Equal(t, "10.0.1.10", web.Conn().Hostname)
	assert.Equal(t, "bastion.example.com", web.Conn().ProxyJump)
	assert.Equal(t, map[string]string{"driver": "470", "env": "prod"}, web.Vars())

	assert.Equal(t, []string{"gpu-01", "gpu-02", "gpu-03", "gpu-04"}, targetIDs(inv.TargetsByGroup("ai_worker")))
	assert.Equal(t, []string{"gpu-01", "gpu-02", "gpu-03", "gpu-04", "web-01"}, targetIDs(inv.TargetsByGroup("production")))

	production, ok := inv.GetGroup("production")
	require.True(t, ok)
	assert.ElementsMatch(t, []fleet.GroupName{"ai_worker", "web"}, production.Children())
	assert.Equal(t, "prod", production.Vars()["env"])
}

func TestParse_INISelectsWithTargeting(t *testing.T) {
	t.Parallel()

	inv, err := Parse(FormatINI, []byte(iniFixture), "hosts")
	require.NoError(t, err)

	expr, err := targeting.Parse("@ai_worker,!tag:canary")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpu-01", "gpu-02", "gpu-03"}, targetIDs(expr.Select(inv)))
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		format Format
		data   string
		code   string
	}{
		{name: "yaml syntax", format: FormatYAML, data: "hosts: [", code: config.ErrCodeInventoryParse},
		{name: "yaml bad host id", format: FormatYAML, data: "hosts:\n  \"bad host\": {}\n", code: config.ErrCodeInventoryInvalid},
		{name: "yaml bad tag", format: FormatYAML, data: "hosts:\n  a:\n    tags: [\"Not A Tag\"]\n", code: config.ErrCodeInventoryInvalid},
		{name: "yaml bad child", format: FormatYAML, data: "groups:\n  a:\n    children: [\"9x\"]\n", code: config.ErrCodeInventoryInvalid},
		{name: "ini bad port", format: FormatINI, data: "[g]\nh1 ansible_port=ssh\n", code: config.ErrCodeInventoryInvalid},
		{name: "ini bad connection", format: FormatINI, data: "[g]\nh1 ansible_connection=winrm\n", code: config.ErrCodeInventoryInvalid},
		{name: "ini reversed range", format: FormatINI, data: "[g]\nh[3:1]\n", code: config.ErrCodeInventoryInvalid},
		{name: "unknown format", format: Format("json"), data: "{}", code: config.ErrCodeUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(tt.format, []byte(tt.data), "inv")
			require.Error(t, err)
			assert.ErrorIs(t, err, &config.UserError{Code: tt.code})
		})
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "fleet.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlFixture), 0o644))
	iniPath := filepath.Join(dir, "hosts")
	require.NoError(t, os.WriteFile(iniPath, []byte(iniFixture), 0o644))

	inv, err := Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 4, inv.TargetCount())

	inv, err = Load(iniPath)
	require.NoError(t, err)
	assert.Equal(t, 6, inv.TargetCount())

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, &config.UserError{Code: config.ErrCodeInventoryNotFound})

	_, err = Load(filepath.Join(dir, "fleet.json"))
	assert.ErrorIs(t, err, &config.UserError{Code: config.ErrCodeUnsupportedFormat})
}

func TestFormatFor(t *testing.T) {
	t.Parallel()

	tests := map[string]Format{
		"fleet.yaml":        FormatYAML,
		"fleet.YML":         FormatYAML,
		"inventory.ini":     FormatINI,
		"ansible/hosts":     FormatINI,
		"ansible/hosts.cfg": FormatINI,
	}
	for path, want := range tests {
		got, ok := FormatFor(path)
		assert.True(t, ok, path)
		assert.Equal(t, want, got, path)
	}
	_, ok := FormatFor("fleet.toml")
	assert.False(t, ok)
}

func TestExpandHosts(t *testing.T) {
	t.Parallel()

	hosts, err := expandHosts("gpu-[08:11].lab")
	require.NoError(t, err)
	assert.Equal(t, []string{"gpu-08.lab", "gpu-09.lab", "gpu-10.lab", "gpu-11.lab"}, hosts)

	hosts, err = expandHosts("node[1:3]")
	require.NoError(t, err)
	assert.Equal(t, []string{"node1", "node2", "node3"}, hosts)

	hosts, err = expandHosts("plain")
	require.NoError(t, err)
	assert.Equal(t, []string{"plain"}, hosts)
}

func TestParseHostVars(t *testing.T) {
	t.Parallel()

	vars := parseHostVars(`ansible_host=10.0.0.1 note="two words" flag empty=`)
	assert.Equal(t, map[string]string{
		"ansible_host": "10.0.0.1",
		"note":         "two words",
		"empty":        "",
	}, vars)
}
