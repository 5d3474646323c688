package installer

import "github.com/linglong/linglong/pkg/ref"

// InstallRequest is the Install operation's input (spec.md §4.5.1).
type InstallRequest struct {
	ID      string
	Version string // optional: a dotted-prefix filter, resolved against C4's candidates
	Arch    ref.Arch
	Channel string
	Module  ref.Module

	// user is threaded internally for recursive runtime/base installs and
	// catalog attribution; callers set it via Install's user parameter.
}

// UninstallRequest is the Uninstall operation's input (spec.md §4.5.2).
type UninstallRequest struct {
	ID            string
	Version       string
	Arch          ref.Arch
	Channel       string
	Module        ref.Module
	AllVersions   bool
	PurgeUserData bool
}

// UpdateRequest is the Update operation's input (spec.md §4.5.3).
type UpdateRequest struct {
	ID      string
	Version string
	Arch    ref.Arch
	Channel string
	Module  ref.Module
}

// UninstallSummary reports the outcome of an Uninstall call (spec.md
// §4.5.2: "Returns a summary including the list of removed versions").
type UninstallSummary struct {
	Removed []ref.Reference
}
