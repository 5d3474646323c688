package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/pkg/ref"
)

// archLibPaths gives the arch-specific library search path additions
// (spec.md §4.6 environment composition). Only the two listed arches
// are supported; any other arch fails composition outright.
var archLibPaths = map[ref.Arch][]string{
	ref.ArchX86_64: {
		"/opt/apps/${APPID}/files/lib/x86_64-linux-gnu",
		"/opt/apps/${APPID}/files/lib",
		"/runtime/lib/x86_64-linux-gnu",
		"/runtime/lib",
	},
	ref.ArchARM64: {
		"/opt/apps/${APPID}/files/lib/aarch64-linux-gnu",
		"/opt/apps/${APPID}/files/lib",
		"/runtime/lib/aarch64-linux-gnu",
		"/runtime/lib",
	},
}

var archQtPluginPaths = map[ref.Arch]string{
	ref.ArchX86_64: "/opt/apps/${APPID}/files/lib/x86_64-linux-gnu/qt5/plugins",
	ref.ArchARM64:  "/opt/apps/${APPID}/files/lib/aarch64-linux-gnu/qt5/plugins",
}

var archGstPluginPaths = map[ref.Arch]string{
	ref.ArchX86_64: "/opt/apps/${APPID}/files/lib/x86_64-linux-gnu/gstreamer-1.0",
	ref.ArchARM64:  "/opt/apps/${APPID}/files/lib/aarch64-linux-gnu/gstreamer-1.0",
}

// composeEnvironment builds the container process's environment
// (spec.md §4.6): PATH rewriting, per-arch LD_LIBRARY_PATH/Qt/gstreamer
// paths, HOME/XDG var fixing, then the app's declared Env overrides.
func composeEnvironment(host hostenv.HostEnv, app LoadedApp) ([]string, error) {
	libPaths, ok := archLibPaths[host.Arch]
	if !ok {
		return nil, &UnsupportedArchError{Arch: host.Arch}
	}
	qtPath := archQtPluginPaths[host.Arch]
	gstPath := archGstPluginPaths[host.Arch]

	expand := func(s string) string { return strings.ReplaceAll(s, "${APPID}", app.App.ID) }

	env := map[string]string{
		"PATH": strings.Join([]string{
			expand("/opt/apps/${APPID}/files/bin"),
			"/runtime/bin",
			"/usr/bin",
			"/bin",
		}, ":"),
		"LD_LIBRARY_PATH": expand(strings.Join(libPaths, ":")),
		"QT_PLUGIN_PATH":  expand(qtPath),
		"GST_PLUGIN_PATH": expand(gstPath),
		"HOME":            host.Home,
		"XDG_RUNTIME_DIR": host.XDGRuntimeDir,
		"XDG_DATA_HOME":   redirectedXDGDir(host, app.App.ID, "share"),
		"XDG_CONFIG_HOME": redirectedXDGDir(host, app.App.ID, "config"),
		"XDG_CACHE_HOME":  redirectedXDGDir(host, app.App.ID, "cache"),
		"DESKTOP_FILE_APPID": app.App.ID,
	}

	for k, v := range app.Env {
		env[k] = v
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out, nil
}

// redirectedXDGDir returns the per-app redirected XDG directory
// (spec.md §4.6 user-directory redirection): `~/.linglong/<id>/<kind>`.
func redirectedXDGDir(host hostenv.HostEnv, id, kind string) string {
	return host.Home + "/.linglong/" + id + "/" + kind
}
