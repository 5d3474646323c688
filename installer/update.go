package installer

import (
	"context"

	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/ref"
)

// Update runs the Update algorithm (spec.md §4.5.3): install the latest
// remote version, then uninstall whichever version was previously
// installed.
//
// Update acquires a single worker-pool slot and uses the pool-free
// install/uninstall cores directly, so it never waits on a second slot
// for its own sub-operations.
func (in *Installer) Update(ctx context.Context, req UpdateRequest, user string) (Reply, error) {
	if err := in.acquire(ctx); err != nil {
		return Reply{}, err
	}
	defer in.release()

	arch := req.Arch
	if arch == "" {
		arch = in.host.Arch
	}

	cur, ok, err := in.catalog.LatestInstalled(ctx, req.ID, req.Version, arch)
	if err != nil {
		return Reply{}, err
	}
	if !ok {
		return Reply{}, &NotInstalledError{Reference: ref.Reference{ID: req.ID, Arch: arch}}
	}

	candidates, err := in.remote.QueryCached(ctx, req.ID, req.Version, string(arch), false)
	if err != nil {
		return Reply{}, err
	}
	var refs []ref.Reference
	for _, d := range candidates {
		refs = append(refs, d.Reference)
	}
	latest, ok := ref.LatestOf(req.ID, req.Version, refs)
	if !ok {
		return Reply{}, &NotInstalledError{Reference: cur.Reference}
	}
	if ref.Compare(latest.Version, cur.Reference.Version) != ref.Greater {
		return Reply{Code: CodeAlreadyUpToDate, Reference: cur.Reference}, nil
	}

	in.setState(cur.Reference, Reply{Code: CodeUpdating})

	installReq := InstallRequest{ID: req.ID, Version: latest.Version.String(), Arch: arch, Channel: req.Channel, Module: req.Module}
	if _, err := in.install(ctx, installReq, user, make(map[string]struct{})); err != nil {
		rep := Reply{Code: CodeUpdateFailed, Message: err.Error()}
		in.setState(cur.Reference, rep)
		return rep, err
	}

	uninstallReq := UninstallRequest{ID: cur.Reference.ID, Version: cur.Reference.Version.String(), Arch: cur.Reference.Arch, Channel: cur.Reference.Channel, Module: cur.Reference.Module}
	if _, err := in.uninstall(ctx, uninstallReq, user, cur.InstallType == catalog.InstallTypeSystem); err != nil {
		rep := Reply{Code: CodeUpdatePartial, Message: err.Error()}
		in.setState(latest, rep)
		return rep, nil
	}

	rep := Reply{Code: CodeUpdateSuccess, Reference: latest}
	in.setState(latest, rep)
	return rep, nil
}
