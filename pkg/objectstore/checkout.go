package objectstore

import (
	"archive/tar"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/linglong/linglong"
	"github.com/linglong/linglong/pkg/path"
)

// decoder pools, adapted from the tarfs package: decompressors
// are expensive to allocate, so checkouts of many small commits reuse
// them across calls.
var (
	gzipPool sync.Pool
	zstdPool sync.Pool
	bufPool  sync.Pool
)

func getGzip() *gzip.Reader {
	if r, ok := gzipPool.Get().(*gzip.Reader); ok {
		return r
	}
	return new(gzip.Reader)
}

func putGzip(r *gzip.Reader) { gzipPool.Put(r) }

func getZstd() *zstd.Decoder {
	if d, ok := zstdPool.Get().(*zstd.Decoder); ok {
		return d
	}
	d, err := zstd.NewReader(nil)
	if err != nil {
		panic("objectstore: creating zstd reader: " + err.Error())
	}
	return d
}

func putZstd(d *zstd.Decoder) { zstdPool.Put(d) }

func getBuf() []byte {
	if b, ok := bufPool.Get().([]byte); ok {
		return b
	}
	return make([]byte, 1<<20)
}

func putBuf(b []byte) { bufPool.Put(b) }

// openCommitArchive opens the named commit content archive for reading,
// wrapping it in the appropriate decompressor by extension.
func openCommitArchive(path string) (io.ReadCloser, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case strings.HasSuffix(path, ".tar.gz") || strings.HasSuffix(path, ".tgz"):
		z := getGzip()
		if err := z.Reset(f); err != nil {
			f.Close()
			putGzip(z)
			return nil, nil, err
		}
		return z, func() { putGzip(z); f.Close() }, nil
	case strings.HasSuffix(path, ".tar.zst"):
		z := getZstd()
		if err := z.Reset(f); err != nil {
			f.Close()
			putZstd(z)
			return nil, nil, err
		}
		return z.IOReadCloser(), func() { putZstd(z); f.Close() }, nil
	case strings.HasSuffix(path, ".tar.xz"):
		zr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		return io.NopCloser(zr), func() { f.Close() }, nil
	default:
		return f, func() { f.Close() }, nil
	}
}

// Checkout materializes the commit backing ref into destination
// (spec.md §4.3). Uses user-only mode (no ownership changes); file
// collisions are resolved by union overwrite, i.e. later entries replace
// earlier ones rather than failing.
func (s *Store) Checkout(ctx context.Context, commitArchivePath, destination string) error {
	if err := os.MkdirAll(destination, 0o750); err != nil {
		return &linglong.Error{Op: "objectstore.Checkout", Kind: linglong.ErrInternal, Inner: err}
	}

	rc, release, err := openCommitArchive(commitArchivePath)
	if err != nil {
		return &linglong.Error{Op: "objectstore.Checkout", Kind: linglong.ErrInternal, Message: "opening commit archive", Inner: err}
	}
	defer release()

	buf := getBuf()
	defer putBuf(buf)

	tr := tar.NewReader(rc)
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		default:
		}
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &linglong.Error{Op: "objectstore.Checkout", Kind: linglong.ErrInternal, Message: "reading commit archive", Inner: err}
		}
		target := filepath.Join(destination, path.CanonicalizeFileName(h.Name))
		if err := checkoutEntry(tr, h, target, buf); err != nil {
			return &linglong.Error{Op: "objectstore.Checkout", Kind: linglong.ErrInternal, Message: "writing " + h.Name, Inner: err}
		}
	}
	return nil
}

func checkoutEntry(r io.Reader, h *tar.Header, target string, buf []byte) error {
	switch h.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o750)
	case tar.TypeSymlink:
		os.Remove(target) // union overwrite: a prior checkout may have left a stale link.
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		return os.Symlink(h.Linkname, target)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		os.Remove(target) // union overwrite: replace whatever was there.
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(h.Mode)&0o777)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.CopyBuffer(f, r, buf)
		return err
	default:
		// Device/fifo nodes require privilege this user-only checkout
		// mode does not have; skip rather than fail the whole checkout.
		return nil
	}
}
