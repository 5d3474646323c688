package service

import (
	"encoding/json"
	"net/http"

	"github.com/linglong/linglong/composer"
	"github.com/linglong/linglong/internal/hostenv"
	"github.com/linglong/linglong/launcher"
)

// LauncherFacade exposes the Launcher over HTTP (spec.md §4.8, §6.2
// app-manager service object path).
type LauncherFacade struct {
	Launcher *launcher.Launcher
	Host     hostenv.HostEnv

	// LoadApp resolves an app id (and optional version/arch) into a
	// composer.LoadedApp; the facade itself never reads the catalog or
	// the object store directly.
	LoadApp func(id, version, arch string) (composer.LoadedApp, error)
}

// Mux builds the app-manager object path's http.ServeMux (spec.md §6.2).
func (f *LauncherFacade) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /Start", f.handleStart)
	mux.HandleFunc("POST /Exec", f.handleExec)
	mux.HandleFunc("POST /Stop", f.handleStop)
	mux.HandleFunc("GET /ListContainer", f.handleList)
	mux.HandleFunc("GET /Status", f.handleStatus)
	return mux
}

type startRequest struct {
	ID      string            `json:"id"`
	Version string            `json:"version"`
	Arch    string            `json:"arch"`
	Exec    []string          `json:"exec,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

func (f *LauncherFacade) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	app, err := f.LoadApp(req.ID, req.Version, req.Arch)
	if err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}
	ci, err := f.Launcher.Start(r.Context(), f.Host, app, req.Exec, req.Env)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, Reply[launcher.ContainerInstance]{Code: "Success", Payload: ci})
}

type execRequest struct {
	ContainerID string            `json:"container_id"`
	Cmd         []string          `json:"cmd"`
	Env         map[string]string `json:"env,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
}

func (f *LauncherFacade) handleExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := f.Launcher.Exec(r.Context(), req.ContainerID, req.Cmd, req.Env, req.Cwd); err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, Reply[struct{}]{Code: "Success"})
}

type stopRequest struct {
	ContainerID string `json:"container_id"`
}

func (f *LauncherFacade) handleStop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := f.Launcher.Stop(req.ContainerID); err != nil {
		writeError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, Reply[struct{}]{Code: "Success"})
}

func (f *LauncherFacade) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Reply[[]launcher.ContainerInstance]{Code: "Success", Payload: f.Launcher.List()})
}

func (f *LauncherFacade) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, Reply[string]{Code: "Success", Payload: f.Launcher.Status()})
}
