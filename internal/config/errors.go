package config

import (
	"fmt"
	"strings"
)

// Error codes for user-facing problems.
const (
	ErrCodeConfigNotFound    = "CONFIG_NOT_FOUND"
	ErrCodeConfigParse       = "CONFIG_PARSE"
	ErrCodeConfigInvalid     = "CONFIG_INVALID"
	ErrCodeInventoryNotFound = "INVENTORY_NOT_FOUND"
	ErrCodeInventoryParse    = "INVENTORY_PARSE"
	ErrCodeInventoryInvalid  = "INVENTORY_INVALID"
	ErrCodeChangeSetNotFound = "CHANGESET_NOT_FOUND"
	ErrCodeChangeSetParse    = "CHANGESET_PARSE"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	ErrCodeReportNotFound    = "REPORT_NOT_FOUND"
)

// UserError is an error with enough context for an operator to fix it.
type UserError struct {
	Code       string // e.g. "INVENTORY_PARSE"
	Message    string
	Context    string // file path or field
	Suggestion string
	Underlying error
}

// Error returns the message with its location.
func (e *UserError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, " (at %s)", e.Context)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, ": %v", e.Underlying)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *UserError) Unwrap() error {
	return e.Underlying
}

// Is matches any UserError with the same code.
func (e *UserError) Is(target error) bool {
	if t, ok := target.(*UserError); ok {
		return e.Code == t.Code
	}
	return false
}

// Format renders the error with code, location and suggestion on
// separate lines for terminal output.
func (e *UserError) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Context != "" {
		fmt.Fprintf(&b, "\n  Location: %s", e.Context)
	}
	if e.Underlying != nil {
		fmt.Fprintf(&b, "\n  Cause: %v", e.Underlying)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", e.Suggestion)
	}
	return b.String()
}

// NewUserError creates a UserError.
func NewUserError(code, message string) *UserError {
	return &UserError{Code: code, Message: message}
}

// WithContext returns a copy with the location set.
func (e *UserError) WithContext(ctx string) *UserError {
	c := *e
	c.Context = ctx
	return &c
}

// WithSuggestion returns a copy with the suggestion set.
func (e *UserError) WithSuggestion(suggestion string) *UserError {
	c := *e
	c.Suggestion = suggestion
	return &c
}

// WithUnderlying returns a copy wrapping err.
func (e *UserError) WithUnderlying(err error) *UserError {
	c := *e
	c.Underlying = err
	return &c
}

// ErrorList accumulates validation problems so a file can be reported in
// one pass.
type ErrorList struct {
	errors []*UserError
}

// NewErrorList creates an empty ErrorList.
func NewErrorList() *ErrorList {
	return &ErrorList{}
}

// Add appends err if it is not nil.
func (l *ErrorList) Add(err *UserError) {
	if err != nil {
		l.errors = append(l.errors, err)
	}
}

// AddValidation appends a validation failure for field.
func (l *ErrorList) AddValidation(field, message, suggestion string) {
	l.Add(&UserError{
		Code:       ErrCodeValidationFailed,
		Message:    fmt.Sprintf("%s: %s", field, message),
		Context:    field,
		Suggestion: suggestion,
	})
}

// HasErrors reports whether any error was added.
func (l *ErrorList) HasErrors() bool {
	return len(l.errors) > 0
}

// Len returns the number of errors.
func (l *ErrorList) Len() int {
	return len(l.errors)
}

// Errors returns a copy of the accumulated errors.
func (l *ErrorList) Errors() []*UserError {
	result := make([]*UserError, len(l.errors))
	copy(result, l.errors)
	return result
}

func (l *ErrorList) Error() string {
	switch len(l.errors) {
	case 0:
		return ""
	case 1:
		return l.errors[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors occurred:\n", len(l.errors))
	for i, err := range l.errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err.Error())
	}
	return b.String()
}

// Format renders every error with its details.
func (l *ErrorList) Format() string {
	if len(l.errors) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d error(s):\n", len(l.errors))
	for i, err := range l.errors {
		fmt.Fprintf(&b, "\n--- Error %d ---\n", i+1)
		b.WriteString(err.Format())
		b.WriteString("\n")
	}
	return b.String()
}

// AsError returns the list as an error, or nil when empty.
func (l *ErrorList) AsError() error {
	if !l.HasErrors() {
		return nil
	}
	return l
}

// NewFileNotFoundError reports a missing input file of the given code.
func NewFileNotFoundError(code, kind, path string) *UserError {
	return &UserError{
		Code:       code,
		Message:    fmt.Sprintf("%s file not found: %s", kind, path),
		Context:    path,
		Suggestion: "Check the file path, or pass it explicitly with the matching flag.",
	}
}

// NewParseError reports a file that could not be decoded.
func NewParseError(code, path string, err error) *UserError {
	return &UserError{
		Code:       code,
		Message:    "failed to parse file",
		Context:    path,
		Suggestion: "Check the syntax. Common issues: incorrect indentation, missing colons, or unquoted special characters.",
		Underlying: err,
	}
}

// NewUnsupportedFormatError reports a file extension no loader handles.
func NewUnsupportedFormatError(path string, supported []string) *UserError {
	return &UserError{
		Code:       ErrCodeUnsupportedFormat,
		Message:    fmt.Sprintf("unsupported file format %q", extOf(path)),
		Context:    path,
		Suggestion: fmt.Sprintf("Use one of: %s", strings.Join(supported, ", ")),
	}
}

func extOf(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 && !strings.ContainsRune(path[i:], '/') {
		return path[i:]
	}
	return ""
}
