package launcher

import (
	"encoding/json"
	"os"

	"golang.org/x/sys/unix"

	"github.com/linglong/linglong/composer"
)

// socketPair creates a connected AF_UNIX SOCK_STREAM pair; one end is
// kept by the supervisor, the other handed to the forked executor via
// ExtraFiles (spec.md §4.7).
func socketPair() (ours, theirs *os.File, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, nil, err
	}
	return os.NewFile(uintptr(fds[0]), "launcher-sock"), os.NewFile(uintptr(fds[1]), "executor-sock"), nil
}

// processMessage is the wire shape of a Configuration or a standalone
// Process spec sent over the executor socket. Only one of Config or
// Process is set per message.
type processMessage struct {
	Config  *composer.Config  `json:"config,omitempty"`
	Process *composer.Process `json:"process,omitempty"`
}

func encodeConfig(cfg composer.Config) []byte {
	b, _ := json.Marshal(processMessage{Config: &cfg})
	return b
}

func encodeProcess(args []string, env map[string]string, cwd string) []byte {
	envList := make([]string, 0, len(env))
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}
	p := &composer.Process{Args: args, Env: envList, Cwd: cwd}
	b, _ := json.Marshal(processMessage{Process: p})
	return b
}

// writeNULTerminated writes payload to w followed by a single NUL byte,
// the only framing the executor protocol defines (spec.md §9 Design
// Notes). Callers must serialize concurrent writes to the same
// connection themselves.
func writeNULTerminated(w *os.File, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}
