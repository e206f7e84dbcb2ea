package fleet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Tag
		wantErr bool
	}{
		{name: "simple tag", input: "gpu", want: Tag("gpu")},
		{name: "tag with hyphen", input: "ai-worker", want: Tag("ai-worker")},
		{name: "uppercase converted to lowercase", input: "Canary", want: Tag("canary")},
		{name: "whitespace trimmed", input: "  edge  ", want: Tag("edge")},
		{name: "empty string", input: "", wantErr: true},
		{name: "starts with number", input: "1gpu", wantErr: true},
		{name: "ends with hyphen", input: "gpu-", wantErr: true},
		{name: "contains underscore", input: "ai_worker", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := NewTag(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTags_DeduplicatesAndSorts(t *testing.T) {
	t.Parallel()

	tags, err := NewTags("gpu", "canary", "GPU", "edge")
	require.NoError(t, err)
	assert.Equal(t, []string{"canary", "edge", "gpu"}, tags.Strings())

	_, err = NewTags("ok", "not ok")
	assert.Error(t, err)
}

func TestTags_Contains(t *testing.T) {
	t.Parallel()

	tags, err := NewTags("gpu", "canary")
	require.NoError(t, err)

	assert.True(t, tags.Contains(Tag("gpu")))
	assert.False(t, tags.Contains(Tag("edge")))
}
