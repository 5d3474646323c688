package composer

import (
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/pkg/ref"
)

func testHost() hostenv.HostEnv {
	return hostenv.HostEnv{
		Arch:            ref.ArchX86_64,
		UID:             1000,
		GID:             1000,
		Home:            "/home/alice",
		XDGRuntimeDir:   "/run/user/1000",
		StoreRoot:       "/var/lib/linglong",
		IsDeepin:        true,
		DBusSessionAddr: "unix:path=/run/user/1000/bus",
	}
}

func testApp() LoadedApp {
	return LoadedApp{
		App:         ref.Reference{Channel: ref.DefaultChannel, ID: "com.example.calc", Version: ref.MustParseVersion("1.0.0"), Arch: ref.ArchX86_64, Module: ref.ModuleRuntime},
		AppLayerDir: "/var/lib/linglong/layers/com.example.calc/1.0.0/x86_64",
		Exec:        []string{"/opt/apps/com.example.calc/files/bin/calc"},
	}
}

// Property 8: the composer is a pure function; composing the same app
// and host facts twice (with the same instance params) yields identical
// output.
func TestComposeIsPure(t *testing.T) {
	host := testHost()
	app := testApp()
	instance := InstanceParams{ContainerID: "fixed-id", WorkDir: "/run/user/1000/linglong/fixed-id"}

	first, err := Compose(host, app, instance)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Compose(host, app, instance)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Compose is not pure (-first +second):\n%s", diff)
	}
}

func TestComposeVariesOnlyByInstanceParams(t *testing.T) {
	host := testHost()
	app := testApp()

	a, err := Compose(host, app, InstanceParams{ContainerID: "a", WorkDir: "/run/user/1000/linglong/a"})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Compose(host, app, InstanceParams{ContainerID: "b", WorkDir: "/run/user/1000/linglong/b"})
	if err != nil {
		t.Fatal(err)
	}
	a.Root = ""
	b.Root = ""
	for i := range a.Mounts {
		if a.Mounts[i].Destination == b.Mounts[i].Destination {
			a.Mounts[i].Source = ""
			b.Mounts[i].Source = ""
		}
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("container id/socket paths leaked beyond expected fields (-a +b):\n%s", diff)
	}
}

func TestComposeUnsupportedArch(t *testing.T) {
	host := testHost()
	host.Arch = ref.Arch("riscv64")
	_, err := Compose(host, testApp(), InstanceParams{ContainerID: "x", WorkDir: "/tmp/x"})
	if _, ok := err.(*UnsupportedArchError); !ok {
		t.Fatalf("err = %v, want *UnsupportedArchError", err)
	}
}

// Property 9: permission-mapping keys are matched case-sensitively
// against the exact enumerated set; no trimming or lowercasing.
func TestUserDirMountsExactKeyMatch(t *testing.T) {
	host := testHost()
	perm := Permissions{FilesystemUser: map[string]string{
		"Documents": "rw",
		"documents": "rw", // wrong case, must be ignored
		" Music":    "rw", // whitespace, must be ignored
		"Unknown":   "rw",
	}}
	mounts, err := userDirMounts(host, perm)
	if err != nil {
		t.Fatal(err)
	}
	if len(mounts) != 1 {
		t.Fatalf("got %d mounts, want 1 (only the exact 'Documents' key): %+v", len(mounts), mounts)
	}
	if mounts[0].Source != "/home/alice/Documents" {
		t.Errorf("source = %q, want /home/alice/Documents", mounts[0].Source)
	}
}

// Property 9: Desktop=rw and Documents=r produce mounts whose options
// include "rw,rbind" and "ro,rbind" respectively.
func TestUserDirMountsOptions(t *testing.T) {
	host := testHost()
	perm := Permissions{FilesystemUser: map[string]string{
		"Desktop":   "rw",
		"Documents": "r",
	}}
	mounts, err := userDirMounts(host, perm)
	if err != nil {
		t.Fatal(err)
	}
	byDest := map[string]Mount{}
	for _, m := range mounts {
		byDest[m.Destination] = m
	}
	desktop, ok := byDest["/home/alice/Desktop"]
	if !ok {
		t.Fatalf("no Desktop mount in %+v", mounts)
	}
	if !containsAll(desktop.Options, "rw", "rbind") {
		t.Errorf("Desktop options = %v, want to include rw and rbind", desktop.Options)
	}
	docs, ok := byDest["/home/alice/Documents"]
	if !ok {
		t.Fatalf("no Documents mount in %+v", mounts)
	}
	if !containsAll(docs.Options, "ro", "rbind") {
		t.Errorf("Documents options = %v, want to include ro and rbind", docs.Options)
	}
}

// TestUserDirMountsROAlias covers spec.md §4.6's "ro" access value being
// as read-only as the shorter "r".
func TestUserDirMountsROAlias(t *testing.T) {
	host := testHost()
	perm := Permissions{FilesystemUser: map[string]string{"Documents": "ro"}}
	mounts, err := userDirMounts(host, perm)
	if err != nil {
		t.Fatal(err)
	}
	if len(mounts) != 1 || !containsAll(mounts[0].Options, "ro", "rbind") {
		t.Fatalf("mounts = %+v, want a single read-only rbind mount", mounts)
	}
}

func containsAll(opts []string, want ...string) bool {
	for _, w := range want {
		found := false
		for _, o := range opts {
			if o == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func TestUserDirMountsAllRecognizedKeys(t *testing.T) {
	host := testHost()
	perm := Permissions{FilesystemUser: map[string]string{
		"Desktop": "rw", "Documents": "rw", "Downloads": "rw", "Music": "rw",
		"Pictures": "rw", "Videos": "rw", "Templates": "rw", "PublicShare": "rw", "Temp": "rw",
	}}
	mounts, err := userDirMounts(host, perm)
	if err != nil {
		t.Fatal(err)
	}
	if len(mounts) != len(perm.FilesystemUser) {
		t.Fatalf("got %d mounts, want %d", len(mounts), len(perm.FilesystemUser))
	}
}

func TestResolveDesktopExecStripsFieldCodes(t *testing.T) {
	dir := t.TempDir()
	writeDesktopEntry(t, dir, "calc.desktop", "Exec=/opt/apps/com.example.calc/files/bin/calc %u --flag %F")

	args, err := resolveDesktopExec(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"/opt/apps/com.example.calc/files/bin/calc", "--flag"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveDesktopExecMultipleEntries(t *testing.T) {
	dir := t.TempDir()
	writeDesktopEntry(t, dir, "a.desktop", "Exec=/a")
	writeDesktopEntry(t, dir, "b.desktop", "Exec=/b")

	_, err := resolveDesktopExec(dir)
	if _, ok := err.(*MultipleDesktopEntriesError); !ok {
		t.Fatalf("err = %v, want *MultipleDesktopEntriesError", err)
	}
}

func writeDesktopEntry(t *testing.T, dir, name, execLine string) {
	t.Helper()
	content := "[Desktop Entry]\nType=Application\nName=Test\n" + execLine + "\n"
	if err := os.WriteFile(dir+"/"+name, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
