package models

import "fmt"

// ErrorKind classifies failures surfaced to the user.
type ErrorKind string

const (
	KindValidation       ErrorKind = "validation"
	KindTransport        ErrorKind = "transport"
	KindProtocol         ErrorKind = "protocol"
	KindJobFailure       ErrorKind = "job-failure"
	KindPollingTransport ErrorKind = "polling-transport"
	KindLoad             ErrorKind = "load-failure"
)

// Error is a user-facing failure. Message is what gets shown, Code is stable
// for logs and tests, Cause keeps the underlying error for errors.Is/As.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// String includes the code, for logs.
func (e *Error) String() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an Error.
func NewError(kind ErrorKind, code, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}
