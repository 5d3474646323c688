// Command linglong-system-daemon runs the privileged system-bus
// services: the Installer (C5) and its Service Facade (C8) installer
// object path, reachable over a Unix domain socket.
//
// Grounded on cmd/libindexhttp's explicit config-then-
// construct main, no package-level singletons (spec.md §9 Design
// Notes).
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/linglong/linglong/installer"
	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/locksource"
	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/objectstore"
	"github.com/linglong/linglong/pkg/poolstats"
	"github.com/linglong/linglong/pkg/remote"
	"github.com/linglong/linglong/pkg/tracing"
	"github.com/linglong/linglong/service"
)

func main() {
	socketPath := flag.String("socket", "/run/linglong_system_helper_socket", "unix socket to listen on")
	ostreeBin := flag.String("ostree-bin", "ostree", "OSTree-like binary used for object store pulls")
	tracingEnabled := flag.Bool("tracing", false, "enable OpenTelemetry tracing")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracing.Bootstrap(ctx, *tracingEnabled)
	defer tracing.Shutdown(ctx)

	host, err := hostenv.Detect()
	if err != nil {
		slog.ErrorContext(ctx, "detecting host environment", "error", err)
		os.Exit(1)
	}

	cat, err := catalog.Open(ctx, filepath.Join(host.StoreRoot, "linglong.db"))
	if err != nil {
		slog.ErrorContext(ctx, "opening local catalog", "error", err)
		os.Exit(1)
	}
	defer cat.Close()

	store, err := objectstore.Ensure(ctx, filepath.Join(host.StoreRoot, "repo"), objectstore.ExecRunner{Bin: *ostreeBin}, &locksource.Local{})
	if err != nil {
		slog.ErrorContext(ctx, "opening object store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	configPath := filepath.Join(host.StoreRoot, "config.json")
	repoCfg, err := service.LoadRepoConfig(configPath)
	if err != nil {
		repoCfg = service.RepoConfig{RepoName: "stable", AppDBURL: "https://appstore.example.org/api/v0/apps"}
	}

	idx := remote.NewHTTPIndex(repoCfg.AppDBURL, http.DefaultClient, rate.NewLimiter(5, 5))

	in, err := installer.New(installer.Options{
		Catalog: cat,
		Remote:  idx,
		Store:   store,
		Host:    host,
	})
	if err != nil {
		slog.ErrorContext(ctx, "constructing installer", "error", err)
		os.Exit(1)
	}

	repoMgr := &service.RepoManager{Store: store, Remote: idx, ConfigPath: configPath}
	facade := &service.InstallerFacade{Installer: in, RepoMgr: repoMgr}

	if err := prometheus.Register(poolstats.NewCollector(in, "installer")); err != nil {
		slog.WarnContext(ctx, "pool metrics already registered", "error", err)
	}

	mux := facade.Mux()
	mux.Handle("GET /metrics", promhttp.Handler())

	slog.InfoContext(ctx, "starting linglong-system-daemon", "socket", *socketPath)
	os.Remove(*socketPath)
	if err := service.ListenAndServeUnix(ctx, *socketPath, mux); err != nil {
		slog.ErrorContext(ctx, "serving installer facade", "error", err)
		os.Exit(1)
	}
}
