// Package launcher implements the Launcher/Supervisor (spec.md C7):
// starting, reusing, and tearing down container instances that run
// installed applications.
//
// Grounded on the worker-pool-per-long-lived-task idiom
// (libvuln's update scheduler holds one goroutine per in-flight job,
// mirrored here as one supervisor goroutine per live container) and on
// original_source/src/linglong/runtime/app.cpp for the fork/socket
// handoff and PR_SET_PDEATHSIG reparenting behavior.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/linglong/linglong/composer"
	"github.com/linglong/linglong/internal/hostenv"
)

// ExecutorPath is the external per-container executor binary invoked to
// actually enter the OCI namespaces and run the composed process. It is
// a package variable so tests can point it at a stub.
var ExecutorPath = "/usr/libexec/linglong/container-init"

// ContainerInstance is one live container (spec.md §3.6/§4.7).
type ContainerInstance struct {
	ID          string
	PackageName string // the installed app's Reference.ID, for start()'s reuse lookup
	Pid         int
	WorkDir     string
	StartedAt   time.Time

	conn *os.File // our end of the socket pair handed to the executor
	cmd  *exec.Cmd
}

// NoSuchContainerError reports that containerID names no live instance
// (spec.md §4.7).
type NoSuchContainerError struct{ ContainerID string }

func (e *NoSuchContainerError) Error() string { return "no such container: " + e.ContainerID }

// LaunchFailedError wraps a fork/exec failure during start() (spec.md
// §4.7).
type LaunchFailedError struct{ Err error }

func (e *LaunchFailedError) Error() string { return fmt.Sprintf("launch failed: %v", e.Err) }
func (e *LaunchFailedError) Unwrap() error { return e.Err }

// Launcher is the Launcher/Supervisor (spec.md C7). Construct with [New].
type Launcher struct {
	host hostenv.HostEnv

	mu        sync.Mutex
	instances map[string]*ContainerInstance // by container id
	byPackage map[string]string             // package name -> container id, for start()'s reuse rule
}

// New constructs a Launcher bound to host.
func New(host hostenv.HostEnv) *Launcher {
	return &Launcher{
		host:      host,
		instances: make(map[string]*ContainerInstance),
		byPackage: make(map[string]string),
	}
}

// List returns a snapshot of live instances (spec.md §4.7 list()).
func (l *Launcher) List() []ContainerInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ContainerInstance, 0, len(l.instances))
	for _, ci := range l.instances {
		out = append(out, *ci)
	}
	return out
}

// Status reports the supervisor's readiness (spec.md §4.7 status()).
func (l *Launcher) Status() string { return "active" }

// Start runs the Launcher's start() operation (spec.md §4.7): reuse a
// live container whose PackageName matches app.App.ID if one exists,
// otherwise compose and fork a new one.
func (l *Launcher) Start(ctx context.Context, host hostenv.HostEnv, app composer.LoadedApp, execArgs []string, env map[string]string) (ContainerInstance, error) {
	if id, ok := l.lookupByPackage(app.App.ID); ok {
		if err := l.Exec(ctx, id, execArgs, env, ""); err != nil {
			return ContainerInstance{}, err
		}
		l.mu.Lock()
		ci := *l.instances[id]
		l.mu.Unlock()
		return ci, nil
	}
	return l.startNew(ctx, host, app)
}

func (l *Launcher) lookupByPackage(packageName string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byPackage[packageName]
	return id, ok
}

// startNew composes app's Configuration, creates its working directory,
// forks the external executor with one end of a socket pair, and writes
// the serialized Configuration terminated with a NUL byte.
func (l *Launcher) startNew(ctx context.Context, host hostenv.HostEnv, app composer.LoadedApp) (ContainerInstance, error) {
	id := uuid.NewString()
	workDir := host.ContainerRuntimeDir(id)
	if err := os.MkdirAll(workDir, 0o700); err != nil {
		return ContainerInstance{}, &LaunchFailedError{Err: err}
	}

	cfg, err := composer.Compose(host, app, composer.InstanceParams{ContainerID: id, WorkDir: workDir})
	if err != nil {
		os.RemoveAll(workDir)
		return ContainerInstance{}, err
	}

	ourEnd, theirEnd, err := socketPair()
	if err != nil {
		os.RemoveAll(workDir)
		return ContainerInstance{}, &LaunchFailedError{Err: err}
	}
	defer theirEnd.Close()

	cmd := exec.CommandContext(ctx, ExecutorPath)
	cmd.ExtraFiles = []*os.File{theirEnd}
	cmd.SysProcAttr = &unix.SysProcAttr{Pdeathsig: unix.SIGKILL}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		ourEnd.Close()
		os.RemoveAll(workDir)
		return ContainerInstance{}, &LaunchFailedError{Err: err}
	}

	if err := writeNULTerminated(ourEnd, encodeConfig(cfg)); err != nil {
		cmd.Process.Kill()
		ourEnd.Close()
		os.RemoveAll(workDir)
		return ContainerInstance{}, &LaunchFailedError{Err: err}
	}

	ci := &ContainerInstance{
		ID:          id,
		PackageName: app.App.ID,
		Pid:         cmd.Process.Pid,
		WorkDir:     workDir,
		StartedAt:   time.Now(),
		conn:        ourEnd,
		cmd:         cmd,
	}
	writeAncillaryFiles(ci, cfg)

	l.mu.Lock()
	l.instances[id] = ci
	l.byPackage[app.App.ID] = id
	l.mu.Unlock()

	go l.reap(id, cmd)

	return *ci, nil
}

// reap waits for the executor to exit and removes the instance (spec.md
// §4.7: "wait for the executor to exit").
func (l *Launcher) reap(id string, cmd *exec.Cmd) {
	cmd.Wait()
	l.mu.Lock()
	ci, ok := l.instances[id]
	if ok {
		delete(l.instances, id)
		if l.byPackage[ci.PackageName] == id {
			delete(l.byPackage, ci.PackageName)
		}
	}
	l.mu.Unlock()
	if ok {
		ci.conn.Close()
		os.RemoveAll(ci.WorkDir)
	}
}

// Exec runs the Launcher's exec() operation (spec.md §4.7): locates a
// live instance by id and writes a new Process spec to its socket.
// Callers are responsible for serializing concurrent Exec calls to the
// same container (spec.md §9 Design Notes).
func (l *Launcher) Exec(ctx context.Context, containerID string, args []string, env map[string]string, cwd string) error {
	l.mu.Lock()
	ci, ok := l.instances[containerID]
	l.mu.Unlock()
	if !ok {
		return &NoSuchContainerError{ContainerID: containerID}
	}
	return writeNULTerminated(ci.conn, encodeProcess(args, env, cwd))
}

// Stop runs the Launcher's stop() operation (spec.md §4.7): sends
// SIGKILL to the recorded pid. The reaper goroutine removes the
// instance once the executor actually exits.
func (l *Launcher) Stop(containerID string) error {
	l.mu.Lock()
	ci, ok := l.instances[containerID]
	l.mu.Unlock()
	if !ok {
		return &NoSuchContainerError{ContainerID: containerID}
	}
	return unix.Kill(ci.Pid, unix.SIGKILL)
}

