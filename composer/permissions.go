package composer

import (
	"path/filepath"
	"strings"

	"github.com/linglong/linglong/internal/hostenv"
)

// userDirKeys maps the permission-mapping keys declared in an app's
// filesystem.user section to the host directory they grant access to
// (spec.md §4.6). Keys are matched case-sensitively against
// this exact set; anything else is ignored.
var userDirKeys = map[string]string{
	"Desktop":     "Desktop",
	"Documents":   "Documents",
	"Downloads":   "Downloads",
	"Music":       "Music",
	"Pictures":    "Pictures",
	"Videos":      "Videos",
	"Templates":   "Templates",
	"PublicShare": "Public",
	"Temp":        "", // maps to /tmp, not a home subdirectory.
}

// userDirMounts resolves perm.FilesystemUser into host bind mounts
// (spec.md §4.6). Only the exact keys in userDirKeys are recognized;
// unknown keys are silently ignored, matching a permissive metadata
// format that may grow new keys over time.
func userDirMounts(host hostenv.HostEnv, perm Permissions) ([]Mount, error) {
	var mounts []Mount
	for key, access := range perm.FilesystemUser {
		sub, ok := userDirKeys[key]
		if !ok {
			continue
		}
		opts := []string{"rw", "rbind"}
		if access == "r" || access == "ro" {
			opts = []string{"ro", "rbind"}
		}
		if key == "Temp" {
			mounts = append(mounts, Mount{Source: "/tmp", Destination: "/tmp", Type: "bind", Options: opts})
			continue
		}
		src := filepath.Join(host.Home, sub)
		mounts = append(mounts, Mount{Source: src, Destination: "/home/" + hostUser(host) + "/" + sub, Type: "bind", Options: opts})
	}
	return mounts, nil
}

func hostUser(host hostenv.HostEnv) string {
	return filepath.Base(host.Home)
}

// homeExceptions lists the host home paths that stay bound to the real
// host location even when the app's home is otherwise redirected to
// ~/.linglong/<id> (spec.md §4.6 user-directory redirection).
var homeExceptions = []string{
	".config/user-dirs.dirs",
	".config/systemd/user",
	".config/dconf",
	".local/share/fonts",
	".cache/fontconfig",
}

// redirectedHomeMounts binds the app's private home subtree
// (~/.linglong/<id>/{config,cache,share}) over the corresponding XDG
// locations, then re-binds the exception allowlist back to the real
// host paths on top (spec.md §4.6).
func redirectedHomeMounts(host hostenv.HostEnv, appID string) []Mount {
	base := filepath.Join(host.Home, ".linglong", appID)
	mounts := []Mount{
		{Source: filepath.Join(base, "share"), Destination: filepath.Join(host.Home, ".local", "share"), Type: "bind", Options: []string{"rw"}},
		{Source: filepath.Join(base, "config"), Destination: filepath.Join(host.Home, ".config"), Type: "bind", Options: []string{"rw"}},
		{Source: filepath.Join(base, "cache"), Destination: filepath.Join(host.Home, ".cache"), Type: "bind", Options: []string{"rw"}},
	}
	for _, rel := range homeExceptions {
		hostPath := filepath.Join(host.Home, rel)
		mounts = append(mounts, Mount{Source: hostPath, Destination: hostPath, Type: "bind", Options: []string{"rw"}})
	}
	return mounts
}

// deviceMounts lists the device nodes always bound into the container
// (spec.md §4.6): DRI and sound are unconditional; nvidia/video and a
// full /dev allow-list are per-app concerns handled by the caller via
// Permissions.Mounts.
func deviceMounts() []Mount {
	return []Mount{
		{Source: "/dev/dri", Destination: "/dev/dri", Type: "bind", Options: []string{"rw"}},
		{Source: "/dev/snd", Destination: "/dev/snd", Type: "bind", Options: []string{"rw"}},
	}
}

// stringsReplacer builds a strings.Replacer from alternating old/new
// pairs, skipping pairs whose replacement is empty so an unset layer
// path (e.g. no runtime) doesn't clobber unrelated text.
func stringsReplacer(pairs ...string) *strings.Replacer {
	var kept []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		kept = append(kept, pairs[i], pairs[i+1])
	}
	return strings.NewReplacer(kept...)
}
