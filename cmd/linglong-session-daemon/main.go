// Command linglong-session-daemon runs the per-user session-bus
// services: the Launcher (C7) and its Service Facade (C8) app-manager
// object path.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/linglong/linglong/composer"
	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/launcher"
	"github.com/linglong/linglong/pkg/catalog"
	"github.com/linglong/linglong/pkg/tracing"
	"github.com/linglong/linglong/service"
)

func main() {
	socketPath := flag.String("socket", "", "unix socket to listen on; defaults to $XDG_RUNTIME_DIR/linglong/session.sock")
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

	l := launcher.New(host)
	facade := &service.LauncherFacade{
		Launcher: l,
		Host:     host,
		LoadApp: func(id, version, arch string) (composer.LoadedApp, error) {
			return loadApp(ctx, cat, host, id, version, arch)
		},
	}

	sock := *socketPath
	if sock == "" {
		sock = filepath.Join(host.XDGRuntimeDir, "linglong", "session.sock")
	}
	if err := os.MkdirAll(filepath.Dir(sock), 0o700); err != nil {
		slog.ErrorContext(ctx, "creating session socket directory", "error", err)
		os.Exit(1)
	}
	os.Remove(sock)

	slog.InfoContext(ctx, "starting linglong-session-daemon", "socket", sock)
	if err := service.ListenAndServeUnix(ctx, sock, facade.Mux()); err != nil {
		slog.ErrorContext(ctx, "serving launcher facade", "error", err)
		os.Exit(1)
	}
}
