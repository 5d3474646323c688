package installer

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/locksource"
	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/objectstore"
	"github.com/linglong/linglong/pkg/ref"
)

// fakeRemote implements remote.Index with a fixed set of descriptors, so
// tests never hit the network.
type fakeRemote struct {
	byID map[string][]catalog.Descriptor
}

func (f *fakeRemote) Query(ctx context.Context, id, version, arch string) ([]catalog.Descriptor, error) {
	return f.byID[id], nil
}

func (f *fakeRemote) QueryCached(ctx context.Context, id, version, arch string, force bool) ([]catalog.Descriptor, error) {
	return f.Query(ctx, id, version, arch)
}

// fakeRunner implements objectstore.Runner by writing a tiny valid tar
// archive for any "export-tar" call and succeeding everything else.
type fakeRunner struct{}

func (fakeRunner) Run(ctx context.Context, repo string, args ...string) ([]byte, error) {
	if len(args) >= 2 && args[0] == "export-tar" {
		archivePath := args[2]
		f, err := os.Create(archivePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		tw := tar.NewWriter(f)
		defer tw.Close()
		content := "#!/bin/sh\n"
		tw.WriteHeader(&tar.Header{Name: "files/bin/app", Mode: 0o755, Size: int64(len(content))})
		tw.Write([]byte(content))
	}
	return nil, nil
}

func newTestInstaller(t *testing.T, remoteDescs map[string][]catalog.Descriptor) *Installer {
	t.Helper()
	dir := t.TempDir()

	cat, err := catalog.Open(t.Context(), filepath.Join(dir, "linglong.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cat.Close() })

	store, err := objectstore.Ensure(t.Context(), filepath.Join(dir, "repo"), fakeRunner{}, &locksource.Local{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.AddRemote(t.Context(), objectstore.Remote{Name: "stable", URL: "https://example.org/repos/stable"}); err != nil {
		t.Fatal(err)
	}

	in, err := New(Options{
		Catalog: cat,
		Remote:  &fakeRemote{byID: remoteDescs},
		Store:   store,
		Host:    hostenv.HostEnv{Arch: ref.ArchX86_64, StoreRoot: dir, Home: dir},
	})
	if err != nil {
		t.Fatal(err)
	}
	return in
}

func descriptor(id, version string, kind catalog.Kind, runtime ref.Reference) catalog.Descriptor {
	return catalog.Descriptor{
		Reference: ref.Reference{Channel: ref.DefaultChannel, ID: id, Version: ref.MustParseVersion(version), Arch: ref.ArchX86_64, Module: ref.ModuleRuntime},
		Kind:      kind,
		Runtime:   runtime,
		RepoName:  "stable",
	}
}

func TestInstallSimpleApp(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.calc": {descriptor("com.example.calc", "1.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)

	rep, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Code != CodeInstallSuccess {
		t.Fatalf("code = %v, want %v", rep.Code, CodeInstallSuccess)
	}

	installed, err := in.catalog.IsInstalled(t.Context(), catalog.Filter{ID: "com.example.calc"}, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !installed {
		t.Error("expected com.example.calc to be recorded installed")
	}
}

func TestInstallIdempotent(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.calc": {descriptor("com.example.calc", "1.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)

	if _, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc"}, "alice"); err != nil {
		t.Fatal(err)
	}
	rep, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Code != CodeAlreadyInstalled {
		t.Fatalf("code = %v, want %v", rep.Code, CodeAlreadyInstalled)
	}
}

func TestUninstallRejectsAllVersionsWithSpecificVersion(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"x": {descriptor("x", "1.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)

	_, err := in.Uninstall(t.Context(), UninstallRequest{ID: "x", Version: "1.0", AllVersions: true}, "alice", false)
	var conflict *ConflictingFlagsError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want *ConflictingFlagsError", err)
	}
}

func TestInstallMissingPackage(t *testing.T) {
	in := newTestInstaller(t, map[string][]catalog.Descriptor{})

	_, err := in.Install(t.Context(), InstallRequest{ID: "nonexistent.app"}, "alice")
	var notFound *NoFuzzyMatchError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want *NoFuzzyMatchError", err)
	}
}

func TestInstallRecursesRuntime(t *testing.T) {
	runtimeRef := ref.Reference{Channel: ref.DefaultChannel, ID: "org.deepin.Runtime", Version: ref.MustParseVersion("23.0.0"), Arch: ref.ArchX86_64, Module: ref.ModuleRuntime}
	descs := map[string][]catalog.Descriptor{
		"com.example.calc":  {descriptor("com.example.calc", "1.0.0", catalog.KindApp, runtimeRef)},
		"org.deepin.Runtime": {descriptor("org.deepin.Runtime", "23.0.0", catalog.KindRuntime, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)
	in.host.IsDeepin = true // skip base install for this test

	if _, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc"}, "alice"); err != nil {
		t.Fatal(err)
	}

	installed, err := in.catalog.IsInstalled(t.Context(), catalog.Filter{ID: "org.deepin.Runtime"}, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !installed {
		t.Error("expected runtime dependency to be installed recursively")
	}
}

func TestUninstallRemovesCatalogRow(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.calc": {descriptor("com.example.calc", "1.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)
	if _, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc"}, "alice"); err != nil {
		t.Fatal(err)
	}

	summary, err := in.Uninstall(t.Context(), UninstallRequest{ID: "com.example.calc"}, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(summary.Removed) != 1 {
		t.Fatalf("removed %d refs, want 1", len(summary.Removed))
	}

	installed, err := in.catalog.IsInstalled(t.Context(), catalog.Filter{ID: "com.example.calc"}, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if installed {
		t.Error("expected com.example.calc to be gone from the catalog")
	}
}

func TestUninstallPermissionDenied(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.calc": {descriptor("com.example.calc", "1.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)
	if _, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc"}, "alice"); err != nil {
		t.Fatal(err)
	}

	if _, err := in.Uninstall(t.Context(), UninstallRequest{ID: "com.example.calc"}, "bob", false); err == nil {
		t.Fatal("expected PermissionDeniedError")
	}
}

func TestUpdateInstallsLatestAndRemovesOld(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.calc": {descriptor("com.example.calc", "2.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)
	// Seed the currently-installed row directly; the fake remote only
	// advertises the newer 2.0.0 candidate.
	if err := in.catalog.Insert(t.Context(), descriptor("com.example.calc", "1.0.0", catalog.KindApp, ref.Reference{}), "alice"); err != nil {
		t.Fatal(err)
	}

	rep, err := in.Update(t.Context(), UpdateRequest{ID: "com.example.calc"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if rep.Code != CodeUpdateSuccess {
		t.Fatalf("code = %v, want %v", rep.Code, CodeUpdateSuccess)
	}

	old, err := in.catalog.IsInstalled(t.Context(), catalog.Filter{ID: "com.example.calc", Version: "1.0.0"}, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if old {
		t.Error("expected the 1.0.0 row to be removed after update")
	}
	latest, err := in.catalog.IsInstalled(t.Context(), catalog.Filter{ID: "com.example.calc", Version: "2.0.0"}, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if !latest {
		t.Error("expected the 2.0.0 row to be installed after update")
	}
}

// TestGetDownloadStatusReflectsProgressFile covers §4.5.4: while an
// install is running, GetDownloadStatus's Message is overlaid from the
// pull's well-known progress file.
func TestGetDownloadStatusReflectsProgressFile(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.calc": {descriptor("com.example.calc", "1.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)

	r := ref.Reference{Channel: ref.DefaultChannel, ID: "com.example.calc", Version: ref.MustParseVersion("1.0.0"), Arch: ref.ArchX86_64, Module: ref.ModuleRuntime}
	in.setState(r, Reply{Code: CodeInstalling})

	fp := objectstore.Fingerprint(r.Channel, r.ID, r.Version.String(), string(r.Arch), string(r.Module))
	path := objectstore.ProgressPath(fp)
	if err := os.WriteFile(path, []byte("fetching layer 2/5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(path) })

	rep, ok := in.GetDownloadStatus(r)
	if !ok {
		t.Fatal("expected a tracked reply")
	}
	if rep.Message != "fetching layer 2/5" {
		t.Errorf("Message = %q, want progress file contents", rep.Message)
	}

	in.setState(r, Reply{Code: CodeInstallSuccess})
	rep, ok = in.GetDownloadStatus(r)
	if !ok {
		t.Fatal("expected a tracked reply")
	}
	if rep.Message != "" {
		t.Errorf("Message = %q, want empty once terminal (progress file not consulted)", rep.Message)
	}
}

// TestStatTracksPoolActivity covers the poolstats.Stater wiring: a
// completed install is reflected as a capacity-bound, zero-active,
// one-completed pool.
func TestStatTracksPoolActivity(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.calc": {descriptor("com.example.calc", "1.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)

	if _, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc"}, "alice"); err != nil {
		t.Fatal(err)
	}

	s := in.Stat()
	if s.Capacity() != DefaultPoolSize {
		t.Errorf("Capacity() = %d, want %d", s.Capacity(), DefaultPoolSize)
	}
	if s.Active() != 0 {
		t.Errorf("Active() = %d, want 0 after install completes", s.Active())
	}
	if s.Completed() != 1 {
		t.Errorf("Completed() = %d, want 1", s.Completed())
	}
}

func TestUnsupportedArch(t *testing.T) {
	in := newTestInstaller(t, nil)
	_, err := in.Install(t.Context(), InstallRequest{ID: "com.example.calc", Arch: ref.ArchARM64}, "alice")
	if _, ok := asUnsupportedArch(err); !ok {
		t.Fatalf("err = %v, want *UnsupportedArchError", err)
	}
}

func asUnsupportedArch(err error) (*UnsupportedArchError, bool) {
	e, ok := err.(*UnsupportedArchError)
	return e, ok
}

// TestConcurrentInstallsOfDifferentRefsDoNotInterfere covers Testable
// Property 7: overlapping installs of distinct refs both complete, each
// with its own catalog row and entry symlinks.
func TestConcurrentInstallsOfDifferentRefsDoNotInterfere(t *testing.T) {
	descs := map[string][]catalog.Descriptor{
		"com.example.a": {descriptor("com.example.a", "1.0.0", catalog.KindApp, ref.Reference{})},
		"com.example.b": {descriptor("com.example.b", "1.0.0", catalog.KindApp, ref.Reference{})},
	}
	in := newTestInstaller(t, descs)

	errs := make(chan error, 2)
	for _, id := range []string{"com.example.a", "com.example.b"} {
		go func() {
			_, err := in.Install(t.Context(), InstallRequest{ID: id}, "alice")
			errs <- err
		}()
	}
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}

	for _, id := range []string{"com.example.a", "com.example.b"} {
		installed, err := in.catalog.IsInstalled(t.Context(), catalog.Filter{ID: id}, "alice", false)
		if err != nil {
			t.Fatal(err)
		}
		if !installed {
			t.Errorf("expected %s to be recorded installed", id)
		}
	}
}
