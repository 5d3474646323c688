// Package objectstore implements the Object Store (spec.md C3): a
// content-addressed layer store accessed through an external OSTree-like
// helper process for pulls, and a library for local checkout/delete/GC
// operations.
//
// Grounded on the internal/spool arena (two-stage pull child
// store lifecycle), internal/filterfs (walking the shared entries tree in
// UnlinkEntries), and locksource.ContextLock (the store's OS lock, one
// per operation per spec.md §5).
package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/linglong/linglong"
	"github.com/linglong/linglong/internal/spool"
	"github.com/linglong/linglong/locksource"
)

// Remote is a logical named repository the store pulls from.
type Remote struct {
	Name      string
	URL       string
	GPGVerify bool
}

// StoreInitError reports that [Ensure] could not initialize or open the
// store (spec.md §4.3).
type StoreInitError struct {
	Root string
	Err  error
}

func (e *StoreInitError) Error() string { return fmt.Sprintf("store init %q: %v", e.Root, e.Err) }
func (e *StoreInitError) Unwrap() error { return e.Err }
func (e *StoreInitError) Is(target error) bool { return target == linglong.ErrInternal }

// Store is the Object Store (spec.md C3). The zero value is not usable;
// construct with [Ensure].
type Store struct {
	root   string
	arena  *spool.Arena
	lock   locksource.ContextLock
	runner Runner

	mu      sync.RWMutex
	remotes map[string]Remote
}

// Runner invokes the external OSTree-like binary. The real binary is an
// out-of-scope external collaborator (spec.md §1); [ExecRunner] is the
// default implementation that shells out to it.
type Runner interface {
	Run(ctx context.Context, repo string, args ...string) ([]byte, error)
}

// Ensure initializes the store under root if absent, or opens it
// otherwise (spec.md §4.3). It creates the arena that roots the temporary
// child stores used by two-stage pulls (§4.10); lock is the store's OS
// lock abstraction.
func Ensure(ctx context.Context, root string, runner Runner, lock locksource.ContextLock) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "objects"), 0o750); err != nil {
		return nil, &StoreInitError{Root: root, Err: err}
	}
	if err := os.MkdirAll(filepath.Join(root, "refs"), 0o750); err != nil {
		return nil, &StoreInitError{Root: root, Err: err}
	}
	arena, err := spool.NewArena(ctx, os.TempDir(), "linglong-pull")
	if err != nil && !os.IsExist(err) {
		return nil, &StoreInitError{Root: root, Err: err}
	}
	s := &Store{
		root:    root,
		arena:   arena,
		lock:    lock,
		runner:  runner,
		remotes: make(map[string]Remote),
	}
	if err := s.loadRemotes(ctx); err != nil {
		return nil, &StoreInitError{Root: root, Err: err}
	}
	return s, nil
}

// Close releases the store's temporary-directory arena.
func (s *Store) Close() error {
	if s.arena == nil {
		return nil
	}
	return s.arena.Close()
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// ListRemotes returns the configured remote names (spec.md §4.3).
func (s *Store) ListRemotes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.remotes))
	for n := range s.remotes {
		out = append(out, n)
	}
	return out
}

// AddRemote registers or replaces a remote (used by the Service Facade's
// ModifyRepo, spec.md §4.8).
func (s *Store) AddRemote(ctx context.Context, r Remote) error {
	s.mu.Lock()
	s.remotes[r.Name] = r
	s.mu.Unlock()
	return s.saveRemotes(ctx)
}

// RemoveRemote deletes a remote's configuration.
func (s *Store) RemoveRemote(ctx context.Context, name string) error {
	s.mu.Lock()
	delete(s.remotes, name)
	s.mu.Unlock()
	return s.saveRemotes(ctx)
}

func (s *Store) remoteURL(name string) (Remote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.remotes[name]
	return r, ok
}

// GetRemote returns the configured remote registered under name.
func (s *Store) GetRemote(name string) (Remote, bool) {
	return s.remoteURL(name)
}

func (s *Store) remotesConfigPath() string { return filepath.Join(s.root, "remotes.json") }
