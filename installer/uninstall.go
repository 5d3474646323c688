package installer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/ref"
)

// Uninstall runs the Uninstall algorithm (spec.md §4.5.2) for req on
// behalf of user, who must own every matched install unless privileged.
func (in *Installer) Uninstall(ctx context.Context, req UninstallRequest, user string, privileged bool) (UninstallSummary, error) {
	if err := in.acquire(ctx); err != nil {
		return UninstallSummary{}, err
	}
	defer in.release()
	return in.uninstall(ctx, req, user, privileged)
}

// uninstall is the pool-slot-free core, callable directly by [Installer.Update]
// which already holds its own slot.
func (in *Installer) uninstall(ctx context.Context, req UninstallRequest, user string, privileged bool) (UninstallSummary, error) {
	if req.AllVersions && req.Version != "" {
		return UninstallSummary{}, &ConflictingFlagsError{Detail: "a specific version was given in conflict with all-version"}
	}

	f := catalog.Filter{ID: req.ID, Arch: req.Arch, Channel: req.Channel, Module: req.Module}
	if !req.AllVersions {
		f.Version = req.Version
	}
	matched, err := in.catalog.List(ctx, f)
	if err != nil {
		return UninstallSummary{}, err
	}
	if len(matched) == 0 {
		return UninstallSummary{}, &NotInstalledError{Reference: ref.Reference{ID: req.ID, Arch: req.Arch, Channel: req.Channel, Module: req.Module}}
	}

	var summary UninstallSummary
	for _, d := range matched {
		if !privileged && d.InstallUser != user {
			return summary, &PermissionDeniedError{Reference: d.Reference, User: user}
		}
	}

	for _, d := range matched {
		ctx := withRefCtx(ctx, d.Reference)
		in.setState(d.Reference, Reply{Code: CodeUninstalling})

		layerRoot := in.LayerPath(d.Reference)
		if in.hooks != nil {
			appDataPath := in.host.AppStateDir(d.Reference.ID)
			if err := in.hooks.RuinInstallPortal(ctx, layerRoot, d.Reference, req.PurgeUserData, appDataPath); err != nil {
				slog.WarnContext(ctx, "pre-uninstall hook failed", "error", err)
			}
		}

		refStr := ref.Format(d.Reference)
		if err := in.store.DeleteRef(ctx, d.RepoName, refStr); err != nil {
			wrapped := &DataFetchFailedError{Reference: d.Reference, Err: err}
			in.setState(d.Reference, Reply{Code: CodeUninstallFailed, Message: wrapped.Error()})
			return summary, wrapped
		}

		if _, err := in.catalog.Remove(ctx, catalog.Filter{
			ID: d.Reference.ID, Version: d.Reference.Version.String(), Arch: d.Reference.Arch,
			Channel: d.Reference.Channel, Module: d.Reference.Module,
		}, user, privileged); err != nil {
			in.setState(d.Reference, Reply{Code: CodeUninstallFailed, Message: err.Error()})
			return summary, err
		}

		in.removeEntries(ctx, d, layerRoot)

		if in.caches != nil {
			if err := in.caches.RefreshCaches(ctx, in.store.EntriesShareDir()); err != nil {
				slog.WarnContext(ctx, "refreshing host caches", "error", err)
			}
		}

		in.setState(d.Reference, Reply{Code: CodeUninstallSuccess})
		summary.Removed = append(summary.Removed, d.Reference)
	}

	return summary, nil
}

// removeEntries removes layerRoot's entry symlinks from the shared tree
// and, once no module of this version remains, the layer checkout itself
// (spec.md §4.5.2).
func (in *Installer) removeEntries(ctx context.Context, d catalog.Descriptor, layerRoot string) {
	if err := in.store.UnlinkEntries(entriesSubtree(layerRoot)); err != nil {
		slog.WarnContext(ctx, "unlinking entries", "error", err)
	}

	remaining, err := in.catalog.List(ctx, catalog.Filter{
		ID: d.Reference.ID, Version: d.Reference.Version.String(), Arch: d.Reference.Arch, Channel: d.Reference.Channel,
	})
	if err != nil {
		slog.WarnContext(ctx, "listing remaining modules", "error", err)
		return
	}
	if len(remaining) > 0 {
		// Another module (e.g. devel) survives for this version; keep its
		// files, only the just-removed module's checkout goes.
		if d.Reference.Module == ref.ModuleDevel {
			os.RemoveAll(layerRoot)
			return
		}
		if entries, err := os.ReadDir(layerRoot); err == nil {
			for _, e := range entries {
				if e.Name() != "devel" {
					os.RemoveAll(filepath.Join(layerRoot, e.Name()))
				}
			}
		}
		return
	}

	// layers/<id>/<version>/<arch>: layerRoot itself for the runtime
	// module, or its parent when layerRoot is the devel subdirectory.
	archRoot := layerRoot
	if d.Reference.Module == ref.ModuleDevel {
		archRoot = filepath.Dir(layerRoot)
	}
	os.RemoveAll(archRoot)

	versionRoot := filepath.Dir(archRoot)
	if entries, err := os.ReadDir(versionRoot); err == nil && len(entries) == 0 {
		os.Remove(versionRoot)
	}
	idRoot := filepath.Dir(versionRoot)
	if entries, err := os.ReadDir(idRoot); err == nil && len(entries) == 0 {
		os.Remove(idRoot)
	}
}
