package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *UserError
		want string
	}{
		{
			name: "message only",
			err:  NewUserError(ErrCodeConfigInvalid, "bad value"),
			want: "bad value",
		},
		{
			name: "with context",
			err:  NewUserError(ErrCodeConfigInvalid, "bad value").WithContext("rollgate.yaml"),
			want: "bad value (at rollgate.yaml)",
		},
		{
			name: "with cause",
			err:  NewUserError(ErrCodeInventoryParse, "failed to parse file").WithUnderlying(errors.New("line 3")),
			want: "failed to parse file: line 3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUserError_BuildersCopy(t *testing.T) {
	t.Parallel()

	base := NewUserError(ErrCodeConfigInvalid, "bad value")
	derived := base.WithSuggestion("fix it").WithContext("x")

	assert.Empty(t, base.Suggestion)
	assert.Empty(t, base.Context)
	assert.Equal(t, "[CONFIG_INVALID] bad value\n  Location: x\n  Suggestion: fix it", derived.Format())
}

func TestUserError_IsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("eof")
	err := NewParseError(ErrCodeChangeSetParse, "cs.yaml", cause)

	assert.ErrorIs(t, err, &UserError{Code: ErrCodeChangeSetParse})
	assert.NotErrorIs(t, err, &UserError{Code: ErrCodeConfigParse})
	assert.ErrorIs(t, err, cause)
}

func TestErrorList(t *testing.T) {
	t.Parallel()

	list := NewErrorList()
	assert.NoError(t, list.AsError())
	assert.Empty(t, list.Error())

	list.Add(nil)
	list.AddValidation("operations[0].path", "is required", "Set an absolute path.")
	assert.Equal(t, "operations[0].path: is required (at operations[0].path)", list.Error())

	list.AddValidation("name", "is required", "")
	assert.Equal(t, 2, list.Len())
	assert.Contains(t, list.Error(), "2 errors occurred:")
	assert.Contains(t, list.Format(), "--- Error 2 ---")
	assert.Error(t, list.AsError())
}

func TestNewUnsupportedFormatError(t *testing.T) {
	t.Parallel()

	err := NewUnsupportedFormatError("dir.d/inventory.json", []string{".yaml", ".ini"})
	assert.Equal(t, `unsupported file format ".json" (at dir.d/inventory.json)`, err.Error())
	assert.Equal(t, "Use one of: .yaml, .ini", err.Suggestion)

	assert.Equal(t, `unsupported file format "" (at dir.d/hosts)`, NewUnsupportedFormatError("dir.d/hosts", nil).Error())
}
