// Package installer implements the Installer (spec.md C5): bringing a
// requested package, its runtime, and (on non-deepin hosts) its base into
// the installed state, atomically visible through the Local Catalog and
// the Object Store's shared entries tree.
//
// Grounded on libindex.Libindex's idiom: explicit construction with
// an Options struct (no package-level singletons, per spec.md §9 Design
// Notes), a lock-then-delegate Index-like entry point, and a
// semaphore-bounded worker pool.
package installer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/linglong/linglong"
	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/internal/log"
	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/objectstore"
	"github.com/linglong/linglong/pkg/poolstats"
	"github.com/linglong/linglong/pkg/ref"
	"github.com/linglong/linglong/pkg/remote"
)

// DefaultPoolSize is the install/uninstall/update worker pool's
// concurrency cap (spec.md §4.5.4, §5).
const DefaultPoolSize = 10

// HookRunner stages the privileged post-install / pre-uninstall hooks via
// the external system helper (spec.md §1, §4.5.1 step 9, §4.5.2).
// Failures are logged as warnings and never fail the surrounding
// operation (spec.md §7).
type HookRunner interface {
	RebuildInstallPortal(ctx context.Context, installPath string, r ref.Reference) error
	RuinInstallPortal(ctx context.Context, packageRoot string, r ref.Reference, purgeUserData bool, appDataPath string) error
}

// CacheRefresher runs the host's desktop-database, MIME-database, and
// GSettings-schema compilers against the shared entries tree (spec.md
// §4.5.1 step 8). Failures are logged as warnings, never fatal.
type CacheRefresher interface {
	RefreshCaches(ctx context.Context, entriesShareDir string) error
}

// Options are the Installer's dependencies and tunables, following the
// Options-struct idiom.
type Options struct {
	Catalog  *catalog.Catalog
	Remote   remote.Index
	Store    *objectstore.Store
	Host     hostenv.HostEnv
	Hooks    HookRunner
	Caches   CacheRefresher
	PoolSize int64 // defaults to DefaultPoolSize
}

// Installer is the Installer (spec.md C5). Construct with [New]; the zero
// value is not usable.
type Installer struct {
	catalog *catalog.Catalog
	remote  remote.Index
	store   *objectstore.Store
	host    hostenv.HostEnv
	hooks   HookRunner
	caches  CacheRefresher

	pool     *semaphore.Weighted
	poolSize int64

	pending   atomic.Int64 // calls blocked in acquire(), for poolstats.Stat.Queued
	active    atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64

	stateMu sync.Mutex
	state   map[string]Reply // keyed by canonical ref string
}

// New constructs an Installer from opts.
func New(opts Options) (*Installer, error) {
	if opts.Catalog == nil || opts.Remote == nil || opts.Store == nil {
		return nil, fmt.Errorf("installer: Catalog, Remote, and Store are required")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	return &Installer{
		catalog:  opts.Catalog,
		remote:   opts.Remote,
		store:    opts.Store,
		host:     opts.Host,
		hooks:    opts.Hooks,
		caches:   opts.Caches,
		pool:     semaphore.NewWeighted(opts.PoolSize),
		poolSize: opts.PoolSize,
		state:    make(map[string]Reply),
	}, nil
}

// Stat implements poolstats.Stater, reporting the state of the install
// worker pool (spec.md §5's cap-10 concurrency limit).
func (in *Installer) Stat() poolstats.Stat {
	return installerStat{
		active:    in.active.Load(),
		queued:    in.pending.Load(),
		capacity:  in.poolSize,
		completed: in.completed.Load(),
		rejected:  in.rejected.Load(),
	}
}

type installerStat struct {
	active, queued, capacity, completed, rejected int64
}

func (s installerStat) Active() int64    { return s.active }
func (s installerStat) Queued() int64    { return s.queued }
func (s installerStat) Capacity() int64  { return s.capacity }
func (s installerStat) Completed() int64 { return s.completed }
func (s installerStat) Rejected() int64  { return s.rejected }

// ReplyCode is the subset of spec.md §6.5's reply-code taxonomy relevant
// to the Installer's progress/terminal states.
type ReplyCode string

const (
	CodeInstalling        ReplyCode = "PkgInstalling"
	CodeInstallSuccess    ReplyCode = "PkgInstallSuccess"
	CodeInstallFailed     ReplyCode = "PkgInstallFailed"
	CodeAlreadyInstalled  ReplyCode = "PkgAlreadyInstalled"
	CodeUninstalling      ReplyCode = "PkgUninstalling"
	CodeUninstallSuccess  ReplyCode = "PkgUninstallSuccess"
	CodeUninstallFailed   ReplyCode = "PkgUninstallFailed"
	CodeUpdating          ReplyCode = "PkgUpdating"
	CodeUpdateSuccess     ReplyCode = "ErrorPkgUpdateSuccess"
	CodeUpdateFailed      ReplyCode = "ErrorPkgUpdateFailed"
	CodeUpdatePartial     ReplyCode = "UpdatePartial"
	CodeAlreadyUpToDate   ReplyCode = "AlreadyUpToDate"
)

// Reply is the typed `{code, message, payload?}` reply shape (spec.md
// §4.8), specialized with the Reference the reply concerns.
type Reply struct {
	Code      ReplyCode
	Message   string
	Reference ref.Reference
	At        time.Time
}

// GetDownloadStatus returns the latest Reply recorded for r, with its
// Message overlaid by the textual progress derived from the pull's
// progress file if the install is still running (spec.md §4.5.4).
func (in *Installer) GetDownloadStatus(r ref.Reference) (Reply, bool) {
	in.stateMu.Lock()
	rep, ok := in.state[ref.Format(r)]
	in.stateMu.Unlock()
	if !ok || !isRunningCode(rep.Code) {
		return rep, ok
	}
	fp := objectstore.Fingerprint(r.Channel, r.ID, r.Version.String(), string(r.Arch), string(r.Module))
	if line, err := objectstore.PollProgress(fp); err == nil && line != "" {
		rep.Message = line
	}
	return rep, ok
}

// isRunningCode reports whether code denotes a pull still in flight,
// i.e. one whose progress file may still be advancing.
func isRunningCode(code ReplyCode) bool {
	switch code {
	case CodeInstalling, CodeUninstalling, CodeUpdating:
		return true
	default:
		return false
	}
}

func (in *Installer) setState(r ref.Reference, rep Reply) {
	rep.Reference = r
	rep.At = time.Now()
	in.stateMu.Lock()
	in.state[ref.Format(r)] = rep
	in.stateMu.Unlock()
}

// clearState drops the stale entry for r before a new install/update
// starts (spec.md §4.5.4).
func (in *Installer) clearState(r ref.Reference) {
	in.stateMu.Lock()
	delete(in.state, ref.Format(r))
	in.stateMu.Unlock()
}

// acquire and release gate entry to the cap-10 worker pool, tracking the
// poolstats counters along the way.
func (in *Installer) acquire(ctx context.Context) error {
	in.pending.Add(1)
	err := in.pool.Acquire(ctx, 1)
	in.pending.Add(-1)
	if err != nil {
		in.rejected.Add(1)
		return err
	}
	in.active.Add(1)
	return nil
}

func (in *Installer) release() {
	in.pool.Release(1)
	in.active.Add(-1)
	in.completed.Add(1)
}

// CycleError reports that the recursive runtime/base dependency chain
// revisited a ref already being installed (spec.md §9 Design Notes).
type CycleError struct{ Reference ref.Reference }

func (e *CycleError) Error() string { return fmt.Sprintf("cyclic dependency at %s", e.Reference) }
func (e *CycleError) Is(target error) bool { return target == linglong.ErrInternal }

// withRefCtx folds the canonical ref into logging context, matching the
// teacher's log.With idiom.
func withRefCtx(ctx context.Context, r ref.Reference) context.Context {
	return log.With(ctx, "ref", ref.Format(r))
}
