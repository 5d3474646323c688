package launcher

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/linglong/linglong/composer"
	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/pkg/ref"
)

func testHost(t *testing.T) hostenv.HostEnv {
	dir := t.TempDir()
	return hostenv.HostEnv{
		Arch:            ref.ArchX86_64,
		UID:             1000,
		GID:             1000,
		Home:            dir,
		XDGRuntimeDir:   dir,
		StoreRoot:       dir,
		IsDeepin:        true,
		DBusSessionAddr: "unix:path=" + dir + "/bus",
	}
}

func testLoadedApp(appLayerDir string) composer.LoadedApp {
	return composer.LoadedApp{
		App:         ref.Reference{Channel: ref.DefaultChannel, ID: "com.example.calc", Version: ref.MustParseVersion("1.0.0"), Arch: ref.ArchX86_64, Module: ref.ModuleRuntime},
		AppLayerDir: appLayerDir,
		Exec:        []string{"/opt/apps/com.example.calc/files/bin/calc"},
	}
}

func TestStartNewInstanceAndReap(t *testing.T) {
	ExecutorPath = "/bin/true"
	defer func() { ExecutorPath = "/usr/libexec/linglong/container-init" }()

	host := testHost(t)
	l := New(host)
	app := testLoadedApp(t.TempDir())

	ci, err := l.startNew(t.Context(), host, app)
	if err != nil {
		t.Fatal(err)
	}
	if ci.PackageName != "com.example.calc" {
		t.Errorf("PackageName = %q, want com.example.calc", ci.PackageName)
	}
	if _, err := os.Stat(ci.WorkDir); err != nil {
		t.Errorf("working directory not created: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(l.List()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("instance was not reaped after executor exit")
}

// TestStartReusesLiveContainer covers seed scenario S5: a second Start
// for the same package name is routed to the already-live container via
// Exec instead of forking a new one.
func TestStartReusesLiveContainer(t *testing.T) {
	l := New(testHost(t))
	id := "existing-id"
	ours, theirs, err := socketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer theirs.Close()
	l.instances[id] = &ContainerInstance{ID: id, PackageName: "com.example.calc", conn: ours}
	l.byPackage["com.example.calc"] = id

	host := testHost(t)
	app := testLoadedApp(t.TempDir())
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 4096)
		n, _ := theirs.Read(buf)
		_ = n
		close(done)
	}()

	ci, err := l.Start(context.Background(), host, app, []string{"/opt/apps/com.example.calc/files/bin/calc"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ci.ID != id {
		t.Errorf("Start forked a new container instead of reusing %q: got %q", id, ci.ID)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("exec message was not written to the reused container's socket")
	}
}

func TestExecNoSuchContainer(t *testing.T) {
	l := New(testHost(t))
	err := l.Exec(context.Background(), "missing", nil, nil, "")
	if _, ok := err.(*NoSuchContainerError); !ok {
		t.Fatalf("err = %v, want *NoSuchContainerError", err)
	}
}

func TestStopNoSuchContainer(t *testing.T) {
	l := New(testHost(t))
	err := l.Stop("missing")
	if _, ok := err.(*NoSuchContainerError); !ok {
		t.Fatalf("err = %v, want *NoSuchContainerError", err)
	}
}

func TestEncodeConfigRoundTrip(t *testing.T) {
	cfg := composer.Config{Root: "/tmp/root", Process: composer.Process{Args: []string{"/bin/app"}}}
	b := encodeConfig(cfg)

	var msg processMessage
	if err := json.Unmarshal(b, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Config == nil || msg.Config.Root != cfg.Root {
		t.Fatalf("decoded config = %+v, want Root %q", msg.Config, cfg.Root)
	}
}

func TestWriteNULTerminated(t *testing.T) {
	ours, theirs, err := socketPair()
	if err != nil {
		t.Fatal(err)
	}
	defer ours.Close()
	defer theirs.Close()

	if err := writeNULTerminated(ours, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := theirs.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "hello\x00" {
		t.Fatalf("read %q, want %q", buf[:n], "hello\x00")
	}
}
