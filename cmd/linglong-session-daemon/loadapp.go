package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/linglong/linglong/composer"
	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/ref"
)

// loadApp resolves an installed app id (and optional version/arch) into
// a composer.LoadedApp: its own layer (with its `info.json` read), its
// runtime's layer (if any), and the devel module's layer (if installed).
func loadApp(ctx context.Context, cat *catalog.Catalog, host hostenv.HostEnv, id, version, arch string) (composer.LoadedApp, error) {
	a := ref.Arch(arch)
	if a == "" {
		a = host.Arch
	}

	d, ok, err := cat.LatestInstalled(ctx, id, version, a)
	if err != nil {
		return composer.LoadedApp{}, err
	}
	if !ok {
		return composer.LoadedApp{}, fmt.Errorf("%s is not installed", id)
	}

	appLayerDir := layerPath(host, d.Reference)
	info, perm, err := composer.LoadInfoJSON(filepath.Join(appLayerDir, "info.json"))
	if err != nil {
		return composer.LoadedApp{}, err
	}

	app := composer.LoadedApp{
		App:         d.Reference,
		Runtime:     d.Runtime,
		AppLayerDir: appLayerDir,
		Info:        info,
		Permissions: perm,
	}

	if d.Runtime.ID != "" {
		app.RuntimeLayerDir = layerPath(host, d.Runtime)
	}

	develRef := d.Reference
	develRef.Module = ref.ModuleDevel
	if installed, err := cat.IsInstalled(ctx, catalog.Filter{
		ID: develRef.ID, Version: develRef.Version.String(), Arch: develRef.Arch, Module: develRef.Module,
	}, "", true); err == nil && installed {
		app.DevelLayerDir = layerPath(host, develRef)
	}

	return app, nil
}

// layerPath mirrors installer.Installer.LayerPath (spec.md §6.3); the
// session daemon has no Installer instance of its own, only read access
// to the same on-disk layout.
func layerPath(host hostenv.HostEnv, r ref.Reference) string {
	p := filepath.Join(host.StoreRoot, "layers", r.ID, r.Version.String(), string(r.Arch))
	if r.Module == ref.ModuleDevel {
		p = filepath.Join(p, "devel")
	}
	return p
}
