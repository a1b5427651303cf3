package core

import (
	"fmt"
)

type ErrorKind string

const (
	ErrInvalidRequest        ErrorKind = "INVALID_REQUEST"
	ErrInvalidSignature      ErrorKind = "INVALID_SIGNATURE"
	ErrNotFound              ErrorKind = "NOT_FOUND"
	ErrMisconfigured         ErrorKind = "MISCONFIGURED"
	ErrEngineExecution       ErrorKind = "ENGINE_EXECUTION_FAILURE"
	ErrNoOutputProduced      ErrorKind = "NO_OUTPUT_PRODUCED"
	ErrUnexpectedOutputCount ErrorKind = "UNEXPECTED_OUTPUT_COUNT"
	ErrParseFailure          ErrorKind = "PARSE_FAILURE"
	ErrDownstreamFailure     ErrorKind = "DOWNSTREAM_FAILURE"
)

// SliceError is the failure variant surfaced by the slicing pipeline. Kind is
// a stable identifier for clients, Detail carries diagnostics (engine output,
// wrapped error text) and is optional.
type SliceError struct {
	Kind    ErrorKind
	Message string
	Detail  string
}

func (e *SliceError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func Errf(kind ErrorKind, format string, args ...any) *SliceError {
	return &SliceError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *SliceError) WithDetail(detail string) *SliceError {
	e.Detail = detail
	return e
}
