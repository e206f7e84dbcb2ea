package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGroupName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    GroupName
		wantErr bool
	}{
		{name: "simple name", input: "production", want: GroupName("production")},
		{name: "name with underscore", input: "ai_worker", want: GroupName("ai_worker")},
		{name: "name with hyphen", input: "prod-west", want: GroupName("prod-west")},
		{name: "whitespace trimmed", input: "  web  ", want: GroupName("web")},
		{name: "empty string", input: "", wantErr: true},
		{name: "starts with number", input: "1web", wantErr: true},
		{name: "contains space", input: "ai worker", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewGroupName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGroup_PatternsAndChildren(t *testing.T) {
	t.Parallel()

	g := NewGroup(GroupName("workers"))
	g.SetDescription("all worker nodes")
	g.AddHostPattern("worker-*")
	g.AddHostPattern("worker-*")
	g.AddChild(GroupName("ai_worker"))
	g.AddChild(GroupName("ai_worker"))
	g.SetVar("env", "prod")

	assert.Equal(t, []string{"worker-*"}, g.HostPatterns())
	assert.Equal(t, []GroupName{"ai_worker"}, g.Children())
	assert.Equal(t, map[string]string{"env": "prod"}, g.Vars())

	patterns := g.HostPatterns()
	patterns[0] = "mutated"
	assert.Equal(t, []string{"worker-*"}, g.HostPatterns())

	summary := g.Summary()
	assert.Equal(t, "workers", summary.Name)
	assert.Equal(t, "all worker nodes", summary.Description)
	assert.Equal(t, []string{"ai_worker"}, summary.Children)
}
