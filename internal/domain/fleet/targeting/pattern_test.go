package targeting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		pattern  string
		wantType PatternType
		matches  []string
		misses   []string
	}{
		{
			name:     "literal",
			pattern:  "host-a",
			wantType: PatternTypeLiteral,
			matches:  []string{"host-a"},
			misses:   []string{"host-ab", "host"},
		},
		{
			name:     "glob",
			pattern:  "host-?",
			wantType: PatternTypeGlob,
			matches:  []string{"host-a", "host-b"},
			misses:   []string{"host-ab", "web-a"},
		},
		{
			name:     "regex",
			pattern:  "~^(host|web)-\\d+$",
			wantType: PatternTypeRegex,
			matches:  []string{"host-1", "web-22"},
			misses:   []string{"db-1", "host-a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewPattern(tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, p.Type())
			assert.Equal(t, tt.pattern, p.Raw())
			for _, s := range tt.matches {
				assert.True(t, p.Match(s), s)
			}
			for _, s := range tt.misses {
				assert.False(t, p.Match(s), s)
			}
		})
	}
}

func TestNewPattern_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewPattern("")
	assert.Error(t, err)
	_, err = NewPattern("~(")
	assert.Error(t, err)
	_, err = NewPattern("[")
	assert.Error(t, err)
}
