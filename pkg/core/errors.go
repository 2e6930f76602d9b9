package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for reporting and retry decisions.
type Kind string

// Error kinds.
const (
	KindNotFound    Kind = "not_found"
	KindValidation  Kind = "validation"
	KindEmptyResult Kind = "empty_result"
	KindStorage     Kind = "storage"
	KindParse       Kind = "parse"
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrEmptyResult = &Error{Kind: KindEmptyResult}
	ErrStorage     = &Error{Kind: KindStorage}
	ErrParse       = &Error{Kind: KindParse}
)

// Error is the structured failure returned by every leapmesh component.
type Error struct {
	Kind Kind
	// Key is the manifest path or registry key involved.
	Key string
	// Field is the missing or invalid field, if known.
	Field string
	// Msg is a short human-readable description.
	Msg string
	// Retryable marks transient storage failures.
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(e.label())
	if e.Key != "" {
		fmt.Fprintf(&b, " [%s]", e.Key)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) label() string {
	switch e.Kind {
	case KindNotFound:
		return "not found"
	case KindValidation:
		return "invalid manifest"
	case KindEmptyResult:
		return "empty result"
	case KindStorage:
		return "storage error"
	case KindParse:
		return "parse error"
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind. Sentinels carry only a Kind,
// so errors.Is(err, ErrNotFound) matches any not-found error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NotFound reports an expected upstream artifact that is absent.
func NotFound(key, msg string, err error) *Error {
	return &Error{Kind: KindNotFound, Key: key, Msg: msg, Err: err}
}

// Validation reports a structural problem in a manifest.
func Validation(key, field, msg string) *Error {
	return &Error{Kind: KindValidation, Key: key, Field: field, Msg: msg}
}

// EmptyResult reports a likely misconfiguration where a result set came back empty.
func EmptyResult(key, msg string) *Error {
	return &Error{Kind: KindEmptyResult, Key: key, Msg: msg}
}

// Storage reports an I/O or auth failure against the registry backend.
func Storage(key string, retryable bool, err error) *Error {
	return &Error{Kind: KindStorage, Key: key, Retryable: retryable, Err: err}
}

// Parse reports invalid document syntax or missing top-level keys.
func Parse(key, field, msg string, err error) *Error {
	return &Error{Kind: KindParse, Key: key, Field: field, Msg: msg, Err: err}
}

// IsRetryable reports whether err is a storage failure classified as transient.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindStorage && e.Retryable
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ExitCode maps an error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
