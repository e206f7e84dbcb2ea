package rollout

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies rollout failures.
type Code string

// Error codes.
const (
	CodeConnection       Code = "CONNECTION_ERROR"
	CodeOperationFailed  Code = "OPERATION_FAILED"
	CodeApprovalTimeout  Code = "APPROVAL_TIMEOUT"
	CodeApprovalRejected Code = "APPROVAL_REJECTED"
	CodeAuditWriteFailed Code = "AUDIT_WRITE_FAILED"
)

// Sentinels for errors.Is comparisons by code.
var (
	ErrConnection       = &Error{Code: CodeConnection}
	ErrOperationFailed  = &Error{Code: CodeOperationFailed}
	ErrApprovalTimeout  = &Error{Code: CodeApprovalTimeout}
	ErrApprovalRejected = &Error{Code: CodeApprovalRejected}
	ErrAuditWriteFailed = &Error{Code: CodeAuditWriteFailed}
)

// Error carries the failing target, operation and cause.
type Error struct {
	Code      Code
	Target    string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " ")))
	if e.Target != "" {
		fmt.Fprintf(&b, " on %s", e.Target)
	}
	if e.Operation != "" {
		fmt.Fprintf(&b, " (operation %s)", e.Operation)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) Code {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
