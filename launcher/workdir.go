package launcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/linglong/linglong/composer"
)

// writeAncillaryFiles writes the per-container working directory's `env`
// dump and `<pid>.pid` marker (spec.md §6.3). Both are best-effort: a
// failure here never fails the launch, since neither file is read back
// by anything this process controls.
func writeAncillaryFiles(ci *ContainerInstance, cfg composer.Config) {
	envPath := filepath.Join(ci.WorkDir, "env")
	content := ""
	for _, kv := range cfg.Process.Env {
		content += kv + "\n"
	}
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		slog.Warn("writing container env dump", "container", ci.ID, "error", err)
	}

	pidPath := filepath.Join(ci.WorkDir, fmt.Sprintf("%d.pid", ci.Pid))
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(ci.Pid)), 0o600); err != nil {
		slog.Warn("writing container pid marker", "container", ci.ID, "error", err)
	}
}
