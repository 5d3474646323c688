package linglong

import (
	"errors"
	"strings"
)

// Error is this module's error domain type.
//
// Errors coming from this module's components should be able to be
// inspected as ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (e.g. when a
// subprocess exits non-zero, a store query fails, or a remote request
// returns an unexpected shape) and intermediate layers should not wrap in
// another Error except to add additional [ErrorKind] information. That is
// to say, use [fmt.Errorf] with a "%w" verb in preference to creating a
// containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrConflict,
		ErrInternal,
		ErrInvalid,
		ErrNotFound,
		ErrPermission,
		ErrTransient,
		ErrPermanent:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If a component is unsure which kind to use, ErrInternal should be used.
type ErrorKind string

// Defined error kinds. The installer and reply-code taxonomies (spec.md
// §4.5.5, §6.5) are built as a thin mapping over these.
var (
	ErrConflict   = ErrorKind("conflict")   // e.g. AlreadyInstalled, ConflictingFlags
	ErrInternal   = ErrorKind("internal")   // non-specific internal error
	ErrInvalid    = ErrorKind("invalid")    // malformed input, e.g. MalformedReference
	ErrNotFound   = ErrorKind("not found")  // no such remote descriptor, installed ref, or container
	ErrPermission = ErrorKind("permission") // caller not entitled to the operation
	ErrTransient  = ErrorKind("transient")  // may succeed on retry, e.g. a dependency install failure
	ErrPermanent  = ErrorKind("permanent")  // will never succeed as posed
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
