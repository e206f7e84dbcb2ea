package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiff_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		diff Diff
		want string
	}{
		{
			name: "no change",
			diff: NoChange("/etc/app.conf"),
			want: "",
		},
		{
			name: "summary only",
			diff: Diff{Changed: true, Subject: "curl", Summary: "install curl"},
			want: "install curl",
		},
		{
			name: "single line",
			diff: Diff{Changed: true, Subject: "/etc/app.conf", Before: "v0\n", After: "v1\n"},
			want: "--- /etc/app.conf\n+++ /etc/app.conf\n-v0\n+v1\n",
		},
		{
			name: "context lines kept",
			diff: Diff{Changed: true, Subject: "/etc/app.conf", Before: "a\nb\nc\n", After: "a\nB\nc\n"},
			want: "--- /etc/app.conf\n+++ /etc/app.conf\n a\n-b\n+B\n c\n",
		},
		{
			name: "created",
			diff: Diff{Changed: true, Subject: "/etc/app.conf", After: "v1"},
			want: "--- /etc/app.conf\n+++ /etc/app.conf\n+v1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.diff.Text())
		})
	}
}
