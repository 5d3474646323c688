// Package composer implements the Container Composer (spec.md C6): a
// pure function from a loaded installed application and host state to an
// OCI Configuration ready for the external executor.
//
// Grounded on the layer-fingerprinting code's idiom for the
// "pure data transform, tested with go-cmp" idiom (indexer's digest/
// manifest computation never touches the network or a process), and on
// original_source/src/module/runtime/app.cpp for exact mount-ordering
// and environment-composition behavior.
package composer

import (
	"fmt"
	"path/filepath"

	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/pkg/ref"
)

// Mount is one OCI bind/overlay mount entry.
type Mount struct {
	Source      string
	Destination string
	Type        string // "bind", "overlay", "tmpfs"
	Options     []string
}

// IDMapping is a single-entry uid/gid mapping (spec.md §4.6).
type IDMapping struct {
	ContainerID uint32
	HostID      uint32
	Size        uint32
}

// Process is the OCI process spec: what the container runs.
type Process struct {
	Args []string
	Env  []string
	Cwd  string
}

// Config is the OCI Configuration the Launcher hands to the external
// executor (spec.md §3.6).
type Config struct {
	Root        string
	Overlay     bool
	Process     Process
	Mounts      []Mount
	UIDMappings []IDMapping
	GIDMappings []IDMapping
	Annotations map[string]string
}

// InfoJSON is a layer's `info.json` (spec.md §6.4).
type InfoJSON struct {
	AppID       string
	Version     string
	Arch        []string
	Kind        string
	Name        string
	Description string
	Runtime     string
	Base        string

	FilesystemUser map[string]string // spec.md §4.6 permission-mapping keys
	OverlayMounts  []Mount           // each {source,destination}, $-substituted
}

// Permissions is the app's declared permission set (spec.md §4.6).
type Permissions struct {
	Mounts         []Mount           // explicit bind rules
	FilesystemUser map[string]string // recognized keys: see userDirKeys
}

// LoadedApp is C6's input: a fully-resolved installed application ready
// for composition.
type LoadedApp struct {
	App     ref.Reference
	Runtime ref.Reference

	AppLayerDir     string // checked-out app layer, e.g. <store>/layers/<id>/<version>/<arch>
	RuntimeLayerDir string // checked-out runtime layer
	DevelLayerDir   string // checked-out devel module, if installed; "" otherwise

	Info        InfoJSON
	Permissions Permissions

	// Exec overrides the desktop-entry-derived command when non-empty
	// (spec.md §4.6: "If no explicit exec is supplied...").
	Exec []string
	Env  map[string]string

	DBusProxyEnabled bool
	DBusFilters      DBusFilters
}

// InstanceParams carries the per-launch facts the composer needs but
// that aren't part of the installed app itself.
type InstanceParams struct {
	ContainerID string
	WorkDir     string // ${XDG_RUNTIME_DIR}/linglong/<container_id>
}

// UnsupportedArchError reports that the host arch has no defined
// environment-composition rule (spec.md §4.6).
type UnsupportedArchError struct{ Arch ref.Arch }

func (e *UnsupportedArchError) Error() string { return fmt.Sprintf("unsupported arch for container composition: %s", e.Arch) }

// NoDesktopEntryError / MultipleDesktopEntriesError report that exec
// resolution could not find exactly one `.desktop` file (spec.md §4.6).
type NoDesktopEntryError struct{ Dir string }

func (e *NoDesktopEntryError) Error() string { return "no .desktop file found under " + e.Dir }

type MultipleDesktopEntriesError struct{ Dir string }

func (e *MultipleDesktopEntriesError) Error() string {
	return "multiple .desktop files found under " + e.Dir
}

// needsOverlay reports whether app's root should be composed as an
// overlay rather than a native bind composition (spec.md §4.6 Root
// selection).
func needsOverlay(app LoadedApp, host hostenv.HostEnv) bool {
	if len(app.Info.OverlayMounts) > 0 {
		return true
	}
	if app.DevelLayerDir != "" {
		return true
	}
	if !host.IsDeepin {
		return true // non-deepin hosts need a base layer composed in.
	}
	// Wine apps are recognized by an info.json Kind of "wine" or by the
	// runtime id org.deepin.foundation.Wine; they need overlay semantics
	// to substitute their own /usr view.
	return app.Info.Kind == "wine" || app.Runtime.ID == "org.deepin.foundation.Wine"
}

// Compose builds app's OCI Configuration for instance, per spec.md §4.6.
// It performs only read-only filesystem inspection (desktop-entry
// resolution) plus the caller-supplied InstanceParams; it never launches
// a process.
func Compose(host hostenv.HostEnv, app LoadedApp, instance InstanceParams) (Config, error) {
	overlay := needsOverlay(app, host)

	cfg := Config{
		Overlay:     overlay,
		Annotations: make(map[string]string),
		UIDMappings: []IDMapping{{ContainerID: 0, HostID: uint32(host.UID), Size: 1}},
		GIDMappings: []IDMapping{{ContainerID: 0, HostID: uint32(host.GID), Size: 1}},
	}

	if overlay {
		cfg.Root = filepath.Join(instance.WorkDir, ".overlayfs", "upper")
	} else {
		cfg.Root = filepath.Join(instance.WorkDir, "root")
	}

	mounts, err := composeMounts(host, app, instance, overlay)
	if err != nil {
		return Config{}, err
	}
	cfg.Mounts = mounts

	env, err := composeEnvironment(host, app)
	if err != nil {
		return Config{}, err
	}

	args := app.Exec
	if len(args) == 0 {
		resolved, err := resolveDesktopExec(filepath.Join(app.AppLayerDir, "entries", "applications"))
		if err != nil {
			return Config{}, err
		}
		args = resolved
	}

	cfg.Process = Process{
		Args: args,
		Env:  env,
		Cwd:  env2home(host),
	}

	if app.DBusProxyEnabled {
		sockPath, err := setupDBusProxy(host, instance, app.DBusFilters, cfg.Annotations)
		if err != nil {
			return Config{}, err
		}
		cfg.Mounts = append(cfg.Mounts, Mount{
			Source: sockPath, Destination: filepath.Join(host.XDGRuntimeDir, "bus"), Type: "bind", Options: []string{"rw"},
		})
	} else {
		cfg.Mounts = append(cfg.Mounts, Mount{
			Source: dbusSessionSocketPath(host), Destination: filepath.Join(host.XDGRuntimeDir, "bus"), Type: "bind", Options: []string{"rw"},
		})
	}

	return cfg, nil
}

func env2home(host hostenv.HostEnv) string {
	if host.Home != "" {
		return host.Home
	}
	return "/"
}

// composeMounts implements spec.md §4.6's mount-ordering rule: host
// read-only mounts first, runtime-override mounts for wine next, then
// user-specific mounts, then the app layer read-write, then devel.
func composeMounts(host hostenv.HostEnv, app LoadedApp, instance InstanceParams, overlay bool) ([]Mount, error) {
	var mounts []Mount

	mounts = append(mounts,
		Mount{Source: "/usr", Destination: "/usr", Type: "bind", Options: []string{"ro"}},
		Mount{Source: "/etc", Destination: "/etc", Type: "bind", Options: []string{"ro"}},
		Mount{Source: "/usr/share/locale", Destination: "/usr/share/locale", Type: "bind", Options: []string{"ro"}},
	)
	if app.RuntimeLayerDir != "" {
		mounts = append(mounts, Mount{Source: filepath.Join(app.RuntimeLayerDir, "files"), Destination: "/runtime", Type: "bind", Options: []string{"ro"}})
	}

	if overlay {
		for _, m := range app.Info.OverlayMounts {
			mounts = append(mounts, Mount{
				Source:      substituteOverlayVars(m.Source, app, host),
				Destination: substituteOverlayVars(m.Destination, app, host),
				Type:        "bind",
				Options:     []string{"rw"},
			})
		}
	}

	userMounts, err := userDirMounts(host, app.Permissions)
	if err != nil {
		return nil, err
	}
	mounts = append(mounts, userMounts...)
	mounts = append(mounts, redirectedHomeMounts(host, app.App.ID)...)
	mounts = append(mounts, app.Permissions.Mounts...)
	mounts = append(mounts, deviceMounts()...)

	mounts = append(mounts, Mount{
		Source: app.AppLayerDir, Destination: filepath.Join("/opt/apps", app.App.ID), Type: "bind", Options: []string{"rw"},
	})
	if app.DevelLayerDir != "" {
		mounts = append(mounts, Mount{
			Source:      filepath.Join(app.DevelLayerDir, "files", "debug"),
			Destination: filepath.Join("/usr/lib/debug/opt/apps", app.App.ID, "files"),
			Type:        "bind",
			Options:     []string{"ro"},
		})
	}

	return mounts, nil
}

// substituteOverlayVars expands the fixed variable set info.json's
// overlay mounts may reference (spec.md §6.4).
func substituteOverlayVars(s string, app LoadedApp, host hostenv.HostEnv) string {
	r := stringsReplacer(
		"$APP_ROOT_PATH", app.AppLayerDir,
		"$RUNTIME_ROOT_PATH", app.RuntimeLayerDir,
		"$APP_ROOT_SHARE_PATH", filepath.Join(app.AppLayerDir, "entries"),
		"$LINGLONG_ROOT", host.StoreRoot,
	)
	return r.Replace(s)
}
