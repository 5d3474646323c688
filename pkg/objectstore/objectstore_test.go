package objectstore

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/linglong/linglong/locksource"
)

// fakeRunner records invocations instead of shelling out, so tests don't
// depend on an ostree binary being present.
type fakeRunner struct {
	calls [][]string
	refs  map[string]string
}

func (f *fakeRunner) Run(ctx context.Context, repo string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{repo}, args...))
	if len(args) > 0 && args[0] == "remote" && len(args) > 1 && args[1] == "refs" {
		var out string
		for r := range f.refs {
			out += r + "\n"
		}
		return []byte(out), nil
	}
	return nil, nil
}

func newTestStore(t *testing.T) (*Store, *fakeRunner) {
	t.Helper()
	fr := &fakeRunner{refs: map[string]string{
		"stable:x/1.2.2/x86_64/runtime":  "c1",
		"stable:x/1.10.0/x86_64/runtime": "c2",
	}}
	s, err := Ensure(t.Context(), t.TempDir(), fr, &locksource.Local{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, fr
}

func TestMatchRefPicksLatestByNumericOrder(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.AddRemote(t.Context(), Remote{Name: "stable", URL: "https://example.org/repos/stable"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.MatchRef(t.Context(), "stable", "x", "", "x86_64")
	if err != nil {
		t.Fatal(err)
	}
	if got != "linglong/x/1.10.0/x86_64/runtime" {
		t.Errorf("MatchRef = %q, want linglong/x/1.10.0/x86_64/runtime", got)
	}
}

func TestMatchRefNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	s.AddRemote(t.Context(), Remote{Name: "stable", URL: "https://example.org/repos/stable"})

	if _, err := s.MatchRef(t.Context(), "stable", "nonexistent", "", "x86_64"); err == nil {
		t.Fatal("expected error")
	}
}

func TestCheckoutExtractsAndUnionOverwrites(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "commit.tar")
	writeTestArchive(t, archivePath, map[string]string{"files/bin/app": "v1"})

	dest := t.TempDir()
	s, _ := newTestStore(t)
	if err := s.Checkout(t.Context(), archivePath, dest); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(dest, "files", "bin", "app"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "v1" {
		t.Fatalf("got %q, want v1", b)
	}

	// A second checkout overwrites rather than erroring on collision.
	writeTestArchive(t, archivePath, map[string]string{"files/bin/app": "v2"})
	if err := s.Checkout(t.Context(), archivePath, dest); err != nil {
		t.Fatal(err)
	}
	b, err = os.ReadFile(filepath.Join(dest, "files", "bin", "app"))
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "v2" {
		t.Fatalf("got %q, want v2 after union overwrite", b)
	}
}

func writeTestArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	tw := tar.NewWriter(f)
	defer tw.Close()
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
}

func TestFingerprint(t *testing.T) {
	got := Fingerprint("linglong", "com.example.calc", "1.2.2", "x86_64", "runtime")
	want := "linglong-com.example.calc-1.2.2-x86_64-runtime"
	if got != want {
		t.Errorf("Fingerprint = %q, want %q", got, want)
	}
}
