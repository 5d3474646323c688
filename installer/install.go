package installer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/ref"
)

// LayerPath returns `<storeRoot>/layers/<id>/<version>/<arch>[/devel]`
// (spec.md §6.3), the destination a layer is checked out to.
func (in *Installer) LayerPath(r ref.Reference) string {
	p := filepath.Join(in.host.StoreRoot, "layers", r.ID, r.Version.String(), string(r.Arch))
	if r.Module == ref.ModuleDevel {
		p = filepath.Join(p, "devel")
	}
	return p
}

// Install runs the Install algorithm (spec.md §4.5.1) for req on behalf
// of user, acquiring a slot on the cap-10 worker pool.
func (in *Installer) Install(ctx context.Context, req InstallRequest, user string) (Reply, error) {
	if err := in.acquire(ctx); err != nil {
		return Reply{}, err
	}
	defer in.release()
	return in.install(ctx, req, user, make(map[string]struct{}))
}

// install is the recursive core shared by top-level installs and the
// runtime/base dependency installs of steps 4 and 5. inFlight tracks the
// refs already being installed on this call chain, for cycle detection.
func (in *Installer) install(ctx context.Context, req InstallRequest, user string, inFlight map[string]struct{}) (Reply, error) {
	// Step 1: defaults and arch check.
	if req.Arch == "" {
		req.Arch = in.host.Arch
	}
	if req.Channel == "" {
		req.Channel = ref.DefaultChannel
	}
	if req.Module == "" {
		req.Module = ref.ModuleRuntime
	}
	if req.Arch != in.host.Arch {
		return Reply{}, &UnsupportedArchError{Requested: req.Arch, Host: in.host.Arch}
	}

	chainKey := fmt.Sprintf("%s/%s/%s/%s", req.Channel, req.ID, req.Arch, req.Module)
	if _, ok := inFlight[chainKey]; ok {
		in.rejected.Add(1)
		return Reply{}, &CycleError{Reference: ref.Reference{Channel: req.Channel, ID: req.ID, Arch: req.Arch, Module: req.Module}}
	}
	inFlight[chainKey] = struct{}{}

	// Step 2: metadata.
	candidates, err := in.remote.Query(ctx, req.ID, req.Version, string(req.Arch))
	if err != nil {
		return Reply{}, err
	}
	var refs []ref.Reference
	for _, d := range candidates {
		refs = append(refs, d.Reference)
	}
	best, ok := ref.LatestOf(req.ID, req.Version, refs)
	if !ok {
		return Reply{}, &NoFuzzyMatchError{Requested: req.ID, Got: ""}
	}
	if best.ID != req.ID {
		return Reply{}, &NoFuzzyMatchError{Requested: req.ID, Got: best.ID}
	}
	var d catalog.Descriptor
	for _, c := range candidates {
		if c.Reference.Equal(best) {
			d = c
			break
		}
	}
	d.Reference.Channel = req.Channel
	d.Reference.Module = req.Module

	ctx = withRefCtx(ctx, d.Reference)
	in.clearState(d.Reference)
	in.setState(d.Reference, Reply{Code: CodeInstalling})

	// Step 3: idempotence.
	installed, err := in.catalog.IsInstalled(ctx, catalog.Filter{
		ID: d.Reference.ID, Version: d.Reference.Version.String(), Arch: d.Reference.Arch,
		Channel: d.Reference.Channel, Module: d.Reference.Module,
	}, user, false)
	if err != nil {
		in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: err.Error()})
		return Reply{}, err
	}
	if installed {
		rep := Reply{Code: CodeAlreadyInstalled}
		in.setState(d.Reference, rep)
		return rep, nil
	}

	// Step 4: runtime dependency.
	if d.Runtime.ID != "" && d.Reference.Module == ref.ModuleRuntime {
		runtimeInstalled, err := in.catalog.IsInstalled(ctx, catalog.Filter{
			ID: d.Runtime.ID, Version: d.Runtime.Version.String(), Arch: d.Runtime.Arch,
		}, user, false)
		if err != nil {
			in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: err.Error()})
			return Reply{}, err
		}
		if !runtimeInstalled {
			runtimeReq := InstallRequest{ID: d.Runtime.ID, Version: d.Runtime.Version.String(), Arch: d.Runtime.Arch, Channel: d.Runtime.Channel, Module: ref.ModuleRuntime}
			if _, err := in.install(ctx, runtimeReq, user, inFlight); err != nil {
				wrapped := &RuntimeInstallFailedError{Runtime: d.Runtime, Err: err}
				in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: wrapped.Error()})
				return Reply{}, wrapped
			}

			// Step 5: base dependency, skipped on deepin-family hosts.
			if !in.host.IsDeepin {
				if base, ok, err := in.baseOf(ctx, d.Runtime); err == nil && ok {
					baseInstalled, err := in.catalog.IsInstalled(ctx, catalog.Filter{ID: base.ID, Version: base.Version.String(), Arch: base.Arch}, user, false)
					if err != nil {
						in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: err.Error()})
						return Reply{}, err
					}
					if !baseInstalled {
						baseReq := InstallRequest{ID: base.ID, Version: base.Version.String(), Arch: base.Arch, Channel: base.Channel, Module: ref.ModuleRuntime}
						if _, err := in.install(ctx, baseReq, user, inFlight); err != nil {
							wrapped := &BaseInstallFailedError{Base: base, Err: err}
							in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: wrapped.Error()})
							return Reply{}, wrapped
						}
					}
				}
			}
		}
	}

	// Step 6: data fetch.
	refStr := ref.Format(d.Reference)
	if err := in.store.Pull(ctx, d.RepoName, refStr); err != nil {
		wrapped := &DataFetchFailedError{Reference: d.Reference, Err: err}
		in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: wrapped.Error()})
		return Reply{}, wrapped
	}
	archivePath, cleanup, err := in.store.ExportCommitArchive(ctx, refStr)
	if err != nil {
		wrapped := &DataFetchFailedError{Reference: d.Reference, Err: err}
		in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: wrapped.Error()})
		return Reply{}, wrapped
	}
	defer cleanup()
	dest := in.LayerPath(d.Reference)
	if err := in.store.Checkout(ctx, archivePath, dest); err != nil {
		wrapped := &DataFetchFailedError{Reference: d.Reference, Err: err}
		in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: wrapped.Error()})
		return Reply{}, wrapped
	}

	// Step 7: entries linking, only advancing the active version forward.
	if err := in.linkEntries(ctx, d.Reference, dest); err != nil {
		wrapped := &DataFetchFailedError{Reference: d.Reference, Err: err}
		in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: wrapped.Error()})
		return Reply{}, wrapped
	}

	// Step 8: refresh host caches; never fatal.
	if in.caches != nil {
		if err := in.caches.RefreshCaches(ctx, in.store.EntriesShareDir()); err != nil {
			slog.WarnContext(ctx, "refreshing host caches", "error", err)
		}
	}

	// Step 9: post-install hook; never fatal.
	if in.hooks != nil {
		if err := in.hooks.RebuildInstallPortal(ctx, dest, d.Reference); err != nil {
			slog.WarnContext(ctx, "post-install hook failed", "error", err)
		}
	}

	// Step 10: catalog insert.
	d.InstallUser = user
	d.InstallType = catalog.InstallTypeUser
	if err := in.catalog.Insert(ctx, d, user); err != nil {
		in.setState(d.Reference, Reply{Code: CodeInstallFailed, Message: err.Error()})
		return Reply{}, err
	}

	rep := Reply{Code: CodeInstallSuccess}
	in.setState(d.Reference, rep)
	return rep, nil
}

// baseOf resolves r's own declared runtime, i.e. the base (spec.md §4.5.1
// step 5). The second return value is false if r declares none.
func (in *Installer) baseOf(ctx context.Context, r ref.Reference) (ref.Reference, bool, error) {
	candidates, err := in.remote.Query(ctx, r.ID, r.Version.String(), string(r.Arch))
	if err != nil {
		return ref.Reference{}, false, err
	}
	for _, c := range candidates {
		if c.Reference.Equal(r) {
			return c.Runtime, c.Runtime.ID != "", nil
		}
	}
	return ref.Reference{}, false, nil
}

// linkEntries links dest's entries subtree into the shared tree, but only
// when advancing to a numerically newer version than whatever is
// currently installed for this id (spec.md §4.5.1 step 7).
func (in *Installer) linkEntries(ctx context.Context, r ref.Reference, dest string) error {
	cur, ok, err := in.catalog.LatestInstalled(ctx, r.ID, "", r.Arch)
	if err != nil {
		return err
	}
	if ok {
		from := ref.Compare(r.Version, cur.Reference.Version)
		if from != ref.Greater {
			return nil // not advancing the active version; preserve it.
		}
		old := in.LayerPath(cur.Reference)
		if err := in.store.UnlinkEntries(entriesSubtree(old)); err != nil {
			slog.WarnContext(ctx, "unlinking prior entries", "error", err)
		}
	}
	return in.store.LinkEntries(entriesSubtree(dest))
}

// entriesSubtree returns a layer checkout's entries/ subtree, falling
// back to the legacy outputs/share/ location (spec.md §4.5.1 step 7).
func entriesSubtree(layerDir string) string {
	p := filepath.Join(layerDir, "entries")
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return p
	}
	return filepath.Join(layerDir, "outputs", "share")
}
