package objectstore

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/linglong/linglong/internal/filterfs"
)

// EntriesShareDir returns `<root>/entries/share` (spec.md §3.4, §6.3).
func (s *Store) EntriesShareDir() string { return filepath.Join(s.root, "entries", "share") }

// LinkEntries walks layerEntriesDir (a checked-out layer's `entries/` or
// legacy `outputs/share/` subtree) and symlinks every regular file into
// the shared entries tree, preserving the relative path (spec.md §4.5.1
// step 7).
func (s *Store) LinkEntries(layerEntriesDir string) error {
	share := s.EntriesShareDir()
	if err := os.MkdirAll(share, 0o750); err != nil {
		return err
	}
	root := os.DirFS(layerEntriesDir)
	return fs.WalkDir(root, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		dst := filepath.Join(share, p)
		src := filepath.Join(layerEntriesDir, p)
		if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
			return err
		}
		os.Remove(dst)
		return os.Symlink(src, dst)
	})
}

// UnlinkEntries removes every symlink under the shared entries tree that
// points somewhere under layerEntriesDir (spec.md §4.5.2, §3.4 invariant
// 3: no dangling symlinks to a removed layer's entries survive).
func (s *Store) UnlinkEntries(layerEntriesDir string) error {
	share := s.EntriesShareDir()
	filtered := filterfs.New(os.DirFS(share))
	return fs.WalkDir(filtered, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if err == fs.SkipDir {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		full := filepath.Join(share, p)
		target, lerr := os.Readlink(full)
		if lerr != nil {
			return nil // not a symlink; leave it alone.
		}
		if withinDir(target, layerEntriesDir) {
			os.Remove(full)
		}
		return nil
	})
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (len(rel) > 0 && rel[0] != '.' && !filepath.IsAbs(rel))
}
