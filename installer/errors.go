package installer

import (
	"fmt"

	"github.com/linglong/linglong"
	"github.com/linglong/linglong/pkg/ref"
)

// The Installer failure taxonomy (spec.md §4.5.5). Each type carries a
// linglong.ErrorKind via Is so callers can classify with errors.Is without
// a type switch.

// UnsupportedArchError reports a request for an arch other than the host's
// (spec.md §4.5.1 step 1).
type UnsupportedArchError struct{ Requested, Host ref.Arch }

func (e *UnsupportedArchError) Error() string {
	return fmt.Sprintf("unsupported arch %s (host is %s)", e.Requested, e.Host)
}
func (e *UnsupportedArchError) Is(target error) bool { return target == linglong.ErrInvalid }

// NotInstalledError reports that an uninstall/update target has no
// matching catalog row.
type NotInstalledError struct{ Reference ref.Reference }

func (e *NotInstalledError) Error() string { return fmt.Sprintf("%s not installed", e.Reference) }
func (e *NotInstalledError) Is(target error) bool { return target == linglong.ErrNotFound }

// RuntimeInstallFailedError wraps a failure recursively installing a
// package's declared runtime dependency (spec.md §4.5.1 step 4).
type RuntimeInstallFailedError struct {
	Runtime ref.Reference
	Err     error
}

func (e *RuntimeInstallFailedError) Error() string {
	return fmt.Sprintf("installing runtime %s: %v", e.Runtime, e.Err)
}
func (e *RuntimeInstallFailedError) Unwrap() error     { return e.Err }
func (e *RuntimeInstallFailedError) Is(t error) bool   { return t == linglong.ErrTransient }

// BaseInstallFailedError wraps a failure installing the runtime's own
// runtime, i.e. the base (spec.md §4.5.1 step 5).
type BaseInstallFailedError struct {
	Base ref.Reference
	Err  error
}

func (e *BaseInstallFailedError) Error() string {
	return fmt.Sprintf("installing base %s: %v", e.Base, e.Err)
}
func (e *BaseInstallFailedError) Unwrap() error   { return e.Err }
func (e *BaseInstallFailedError) Is(t error) bool { return t == linglong.ErrTransient }

// DataFetchFailedError wraps a pull, checkout, or entries-linking failure
// during install (spec.md §4.5.1 steps 6-7), and a ref deletion failure
// during uninstall.
type DataFetchFailedError struct {
	Reference ref.Reference
	Err       error
}

func (e *DataFetchFailedError) Error() string {
	return fmt.Sprintf("fetching data for %s: %v", e.Reference, e.Err)
}
func (e *DataFetchFailedError) Unwrap() error   { return e.Err }
func (e *DataFetchFailedError) Is(t error) bool { return t == linglong.ErrTransient }

// ConflictingFlagsError reports mutually exclusive request flags, e.g.
// AllVersions with a specific Version (spec.md §4.5.2).
type ConflictingFlagsError struct{ Detail string }

func (e *ConflictingFlagsError) Error() string        { return "conflicting flags: " + e.Detail }
func (e *ConflictingFlagsError) Is(target error) bool { return target == linglong.ErrInvalid }

// PermissionDeniedError reports that a non-privileged caller targeted an
// install it does not own (spec.md §4.5.2 permission rule).
type PermissionDeniedError struct {
	Reference ref.Reference
	User      string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("user %q may not modify %s", e.User, e.Reference)
}
func (e *PermissionDeniedError) Is(target error) bool { return target == linglong.ErrPermission }

// NoFuzzyMatchError reports that the remote index's best candidate for a
// query does not share the requested id (spec.md §4.5.1 step 2), or that
// no candidate exists at all.
type NoFuzzyMatchError struct{ Requested, Got string }

func (e *NoFuzzyMatchError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("%q not found in repo", e.Requested)
	}
	return fmt.Sprintf("remote candidate id %q does not match requested id %q", e.Got, e.Requested)
}
func (e *NoFuzzyMatchError) Is(target error) bool { return target == linglong.ErrNotFound }
