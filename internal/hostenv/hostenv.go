// Package hostenv detects and carries the host-specific facts that the
// installer, composer, and launcher would otherwise reach for through
// global process state (spec.md §9 Design Notes).
//
// A HostEnv is constructed once per daemon process (see cmd/) and passed
// explicitly into every constructor that needs it.
package hostenv

import (
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/linglong/linglong/pkg/ref"
)

// HostEnv carries the facts about the running host that installer,
// composer, and launcher construction needs.
type HostEnv struct {
	Arch ref.Arch

	UID int
	GID int

	Home string

	XDGRuntimeDir string
	XDGDataHome   string
	XDGConfigHome string
	XDGCacheHome  string

	// StoreRoot is the Object Store / Local Catalog root directory,
	// chosen from the distribution-dependent candidates in spec.md §6.3.
	StoreRoot string

	// IsDeepin gates the base-dependency install step (spec.md §4.5.1
	// step 5) and overlay root selection (§4.6).
	IsDeepin bool

	// DBusSessionAddr is the value of DBUS_SESSION_BUS_ADDRESS, used when
	// the DBus proxy is disabled and the host session bus socket is
	// bound directly into the container (§4.6).
	DBusSessionAddr string
}

// storeRootCandidates lists, in preference order, the store roots a real
// installation may use; the first that exists (or, failing that, the
// first at all) is selected.
var storeRootCandidates = []string{
	"/var/lib/linglong",
	"/data/linglong",
	"/persistent/linglong",
}

// Detect builds a HostEnv from the current process's environment and
// credentials.
func Detect() (HostEnv, error) {
	var h HostEnv
	h.Arch = ref.HostArch()
	h.UID = os.Getuid()
	h.GID = os.Getgid()

	u, err := user.Current()
	if err != nil {
		return HostEnv{}, err
	}
	h.Home = u.HomeDir

	h.XDGRuntimeDir = envOr("XDG_RUNTIME_DIR", filepath.Join("/run/user", strconv.Itoa(h.UID)))
	h.XDGDataHome = envOr("XDG_DATA_HOME", filepath.Join(h.Home, ".local", "share"))
	h.XDGConfigHome = envOr("XDG_CONFIG_HOME", filepath.Join(h.Home, ".config"))
	h.XDGCacheHome = envOr("XDG_CACHE_HOME", filepath.Join(h.Home, ".cache"))

	h.StoreRoot = detectStoreRoot()
	h.IsDeepin = detectDeepin()
	h.DBusSessionAddr = os.Getenv("DBUS_SESSION_BUS_ADDRESS")

	return h, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func detectStoreRoot() string {
	for _, c := range storeRootCandidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return storeRootCandidates[0]
}

// detectDeepin reports whether the host is a deepin-family distribution,
// which skips the base-layer dependency (§4.5.1 step 5) because the host
// itself supplies /usr and /etc.
func detectDeepin() bool {
	if _, err := os.Stat("/etc/deepin-version"); err == nil {
		return true
	}
	b, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(b), "\n") {
		k, v, ok := strings.Cut(line, "=")
		if ok && k == "ID" && strings.EqualFold(strings.Trim(v, `"`), "Deepin") {
			return true
		}
	}
	return false
}

// AppStateDir returns the per-user per-app state root `~/.linglong/<id>`
// (spec.md §6.3).
func (h HostEnv) AppStateDir(id string) string {
	return filepath.Join(h.Home, ".linglong", id)
}

// ContainerRuntimeDir returns the per-container working directory
// `${XDG_RUNTIME_DIR}/linglong/<container_id>` (spec.md §6.3).
func (h HostEnv) ContainerRuntimeDir(containerID string) string {
	return filepath.Join(h.XDGRuntimeDir, "linglong", containerID)
}
