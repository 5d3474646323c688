package service

import (
	"encoding/json"
	"net/http"

	"github.com/linglong/linglong/installer"
	"github.com/linglong/linglong/pkg/ref"
)

// InstallerFacade exposes the Installer over HTTP (spec.md §4.8, §6.2
// installer service object path).
type InstallerFacade struct {
	Installer *installer.Installer
	RepoMgr   *RepoManager
	User      func(*http.Request) string // resolves the calling user; defaults to the request's RemoteAddr
}

func (f *InstallerFacade) user(r *http.Request) string {
	if f.User != nil {
		return f.User(r)
	}
	return r.RemoteAddr
}

// Mux builds the installer object path's http.ServeMux (spec.md §6.2).
func (f *InstallerFacade) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /Install", f.handleInstall)
	mux.HandleFunc("POST /Uninstall", f.handleUninstall)
	mux.HandleFunc("POST /Update", f.handleUpdate)
	mux.HandleFunc("GET /GetDownloadStatus", f.handleGetDownloadStatus)
	mux.HandleFunc("POST /ModifyRepo", f.handleModifyRepo)
	return mux
}

func (f *InstallerFacade) handleInstall(w http.ResponseWriter, r *http.Request) {
	var req installer.InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	rep, err := f.Installer.Install(r.Context(), req, f.user(r))
	if err != nil {
		writeError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, Reply[ref.Reference]{Code: string(rep.Code), Payload: rep.Reference})
}

func (f *InstallerFacade) handleUninstall(w http.ResponseWriter, r *http.Request) {
	var req installer.UninstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	summary, err := f.Installer.Uninstall(r.Context(), req, f.user(r), false)
	if err != nil {
		writeError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, Reply[installer.UninstallSummary]{Code: "PkgUninstallSuccess", Payload: summary})
}

func (f *InstallerFacade) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req installer.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	rep, err := f.Installer.Update(r.Context(), req, f.user(r))
	if err != nil {
		writeError(w, err, http.StatusConflict)
		return
	}
	writeJSON(w, Reply[ref.Reference]{Code: string(rep.Code), Payload: rep.Reference})
}

func (f *InstallerFacade) handleGetDownloadStatus(w http.ResponseWriter, r *http.Request) {
	id, versionStr, arch := r.URL.Query().Get("id"), r.URL.Query().Get("version"), r.URL.Query().Get("arch")
	version, err := ref.ParseVersion(orDefault(versionStr, "0"))
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	target := ref.Reference{ID: id, Version: version, Arch: ref.Arch(arch)}
	rep, ok := f.Installer.GetDownloadStatus(target)
	if !ok {
		writeError(w, &installer.NotInstalledError{Reference: target}, http.StatusNotFound)
		return
	}
	writeJSON(w, Reply[ref.Reference]{Code: string(rep.Code), Message: rep.Message, Payload: rep.Reference})
}

// modifyRepoRequest is ModifyRepo's parameter record (spec.md §4.8).
type modifyRepoRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (f *InstallerFacade) handleModifyRepo(w http.ResponseWriter, r *http.Request) {
	var req modifyRepoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := f.RepoMgr.ModifyRepo(r.Context(), req.Name, req.URL); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, Reply[struct{}]{Code: "Success"})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
