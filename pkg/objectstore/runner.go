package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// ExecRunner is the default [Runner]: it shells out to an external
// OSTree-like binary, one subprocess per call (spec.md §1: the OSTree
// binary is an out-of-scope external collaborator, invoked as a
// subprocess).
type ExecRunner struct {
	// Bin is the binary name or path, e.g. "ostree".
	Bin string
}

var _ Runner = ExecRunner{}

// Run implements [Runner].
func (e ExecRunner) Run(ctx context.Context, repo string, args ...string) ([]byte, error) {
	bin := e.Bin
	if bin == "" {
		bin = "ostree"
	}
	full := append([]string{"--repo=" + repo}, args...)
	cmd := exec.CommandContext(ctx, bin, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %v: %w: %s", bin, full, err, stderr.String())
	}
	return stdout.Bytes(), nil
}
