// Package spool provides utilities for managing temporary-directory
// lifecycles: arenas that track the directories allocated under them and
// remove them all on Close.
package spool

import (
	"io"
	"runtime/pprof"
)

// This package uses profiles instead of panicking finalizers because
// Arenas keep live pointers, which would prevent the finalizers working
// correctly anyway.

const pprofPrefix = `github.com/linglong/linglong/internal/spool.`

// Profiling support:
var (
	aProfile = pprof.NewProfile(pprofPrefix + "Arena")
	dProfile = pprof.NewProfile(pprofPrefix + "Dir")
)

// Some interface asserts:
var (
	_ io.Closer = (*Arena)(nil)
	_ io.Closer = (*Dir)(nil)
)
