package objectstore

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/linglong/linglong"
	"github.com/linglong/linglong/internal/log"
	"github.com/linglong/linglong/pkg/ref"
)

// NotFoundError reports that [Store.MatchRef] found no remote ref
// matching the requested coordinates.
type NotFoundError struct {
	Remote, ID, Version string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no ref matching %s/%s/%s in remote %q", e.ID, e.Version, e.Remote, e.Remote)
}
func (e *NotFoundError) Is(target error) bool { return target == linglong.ErrNotFound }

// RemoteRefs fetches remote's summary and ref map (spec.md §4.3). Side
// effect: network I/O, via the external OSTree-like binary's own
// "remote refs" support.
func (s *Store) RemoteRefs(ctx context.Context, remote string) (map[string]string, error) {
	r, ok := s.remoteURL(remote)
	if !ok {
		return nil, &linglong.Error{Op: "objectstore.RemoteRefs", Kind: linglong.ErrNotFound, Message: "unknown remote: " + remote}
	}
	out, err := s.runner.Run(ctx, s.root, "remote", "refs", r.Name)
	if err != nil {
		return nil, &linglong.Error{Op: "objectstore.RemoteRefs", Kind: linglong.ErrTransient, Inner: err}
	}
	return parseRefList(string(out)), nil
}

// parseRefList parses `ostree remote refs` output: one `remote:ref
// commit` or `ref` line per entry. Only the ref name, stripped of any
// leading "remote:" prefix, is retained; the commit hash is looked up
// separately with `rev-parse` where needed.
func parseRefList(s string) map[string]string {
	m := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if f := strings.Fields(line); len(f) > 1 {
			line = f[0] // drop the trailing commit column.
		}
		if i := strings.IndexByte(line, ':'); i >= 0 {
			line = line[i+1:]
		}
		m[line] = ""
	}
	return m
}

// MatchRef scans remote's refs whose components match id/version/arch;
// if version is empty, returns the greatest by numeric version order
// (spec.md §4.1); fails with [*NotFoundError] otherwise.
func (s *Store) MatchRef(ctx context.Context, remote, id, version string, arch ref.Arch) (string, error) {
	refs, err := s.RemoteRefs(ctx, remote)
	if err != nil {
		return "", err
	}

	var candidates []ref.Reference
	for name := range refs {
		r, err := ref.Parse(name)
		if err != nil || r.ID != id || r.Arch != arch {
			continue
		}
		candidates = append(candidates, r)
	}
	best, ok := ref.LatestOf(id, version, candidates)
	if !ok {
		return "", &NotFoundError{Remote: remote, ID: id, Version: version}
	}
	return ref.Format(best), nil
}

// Pull fetches commit objects for ref from remote into the store
// (spec.md §4.3). Implemented in two stages: pull into a temporary child
// store rooted under /tmp via the spool arena, then pull-local from the
// child into the main store. The child store is always removed.
func (s *Store) Pull(ctx context.Context, remote, refStr string) error {
	r, ok := s.remoteURL(remote)
	if !ok {
		return &linglong.Error{Op: "objectstore.Pull", Kind: linglong.ErrNotFound, Message: "unknown remote: " + remote}
	}

	ctx = log.With(ctx, "remote", remote, "ref", refStr)
	slog.InfoContext(ctx, "pull start")

	child, err := s.arena.NewDir(ctx, sanitizeDirName(refStr))
	if err != nil {
		return &linglong.Error{Op: "objectstore.Pull", Kind: linglong.ErrInternal, Message: "allocating child store", Inner: err}
	}
	defer child.Close()

	if _, err := s.runner.Run(ctx, child.Name(), "init", "--mode=bare-user"); err != nil {
		return &linglong.Error{Op: "objectstore.Pull", Kind: linglong.ErrInternal, Message: "initializing child store", Inner: err}
	}
	if _, err := s.runner.Run(ctx, child.Name(), "remote", "add", "--no-gpg-verify", remote, r.URL); err != nil {
		return &linglong.Error{Op: "objectstore.Pull", Kind: linglong.ErrTransient, Message: "configuring child remote", Inner: err}
	}
	if _, err := s.runner.Run(ctx, child.Name(), "pull", remote, refStr); err != nil {
		return &linglong.Error{Op: "objectstore.Pull", Kind: linglong.ErrTransient, Message: "pulling into child store", Inner: err}
	}

	lc, done := s.lock.Lock(ctx, "objectstore")
	defer done()
	if err := lc.Err(); err != nil {
		return err
	}
	if _, err := s.runner.Run(lc, s.root, "pull-local", child.Name(), refStr); err != nil {
		return &linglong.Error{Op: "objectstore.Pull", Kind: linglong.ErrInternal, Message: "pull-local into main store", Inner: err}
	}

	slog.InfoContext(ctx, "pull done")
	return nil
}

// DeleteRef clears ref and prunes unreachable objects in a single
// traversal (spec.md §4.3): the prune is part of the contract, not an
// optional follow-up.
func (s *Store) DeleteRef(ctx context.Context, remote, refStr string) error {
	lc, done := s.lock.Lock(ctx, "objectstore")
	defer done()
	if err := lc.Err(); err != nil {
		return err
	}
	if _, err := s.runner.Run(lc, s.root, "refs", "--delete", refStr); err != nil {
		return &linglong.Error{Op: "objectstore.DeleteRef", Kind: linglong.ErrInternal, Message: "clearing ref", Inner: err}
	}
	if _, err := s.runner.Run(lc, s.root, "prune", "--refs-only"); err != nil {
		return &linglong.Error{Op: "objectstore.DeleteRef", Kind: linglong.ErrInternal, Message: "pruning unreachable objects", Inner: err}
	}
	return nil
}

func sanitizeDirName(s string) string {
	return strings.NewReplacer("/", "-", ":", "-").Replace(s) + "-*"
}

// ExportCommitArchive asks the external helper to materialize refStr's
// commit content as a portable tar archive under a temporary path, for
// [Store.Checkout] to extract. The caller must invoke the returned
// cleanup func once done with the archive.
func (s *Store) ExportCommitArchive(ctx context.Context, refStr string) (path string, cleanup func(), error error) {
	dir, err := s.arena.NewDir(ctx, sanitizeDirName(refStr))
	if err != nil {
		return "", nil, &linglong.Error{Op: "objectstore.ExportCommitArchive", Kind: linglong.ErrInternal, Inner: err}
	}
	archivePath := filepath.Join(dir.Name(), "commit.tar")
	if _, err := s.runner.Run(ctx, s.root, "export-tar", refStr, archivePath); err != nil {
		dir.Close()
		return "", nil, &linglong.Error{Op: "objectstore.ExportCommitArchive", Kind: linglong.ErrInternal, Message: "exporting commit archive", Inner: err}
	}
	return archivePath, func() { dir.Close() }, nil
}
