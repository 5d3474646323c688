package service

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"

	"github.com/linglong/linglong/pkg/objectstore"
	"github.com/linglong/linglong/pkg/remote"
	"github.com/linglong/linglong/pkg/tmp"
)

// RepoConfig is the daemon-scoped `config.json` shape (spec.md §6.3).
type RepoConfig struct {
	RepoName string `json:"repoName"`
	AppDBURL string `json:"appDbUrl"`
}

// RepoManager implements ModifyRepo (spec.md §4.8): it mutates the
// Object Store's remote configuration and the Remote Metadata Client's
// base URL together, then persists both to configPath.
type RepoManager struct {
	Store      *objectstore.Store
	Remote     *remote.HTTPIndex
	ConfigPath string
}

// ModifyRepo deletes the prior remote registered under name, writes the
// new remote at "<url>/repos/<name>" with gpg-verify=false, points the
// remote index at the bare url, and persists {repoName, appDbUrl: url}
// to the daemon's config file (spec.md §4.8). Fails with
// [InvalidURLError] if url's scheme is not http/https.
func (m *RepoManager) ModifyRepo(ctx context.Context, name, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &InvalidURLError{URL: rawURL}
	}

	remoteURL, err := url.JoinPath(rawURL, "repos", name)
	if err != nil {
		return &InvalidURLError{URL: rawURL}
	}

	if err := m.Store.RemoveRemote(ctx, name); err != nil {
		return err
	}
	if err := m.Store.AddRemote(ctx, objectstore.Remote{Name: name, URL: remoteURL, GPGVerify: false}); err != nil {
		return err
	}
	m.Remote.BaseURL = rawURL

	cfg := RepoConfig{RepoName: name, AppDBURL: rawURL}
	return m.saveConfig(cfg)
}

// saveConfig writes cfg to a scratch file in the same directory as
// ConfigPath and renames it into place, so a reader never observes a
// partially-written config.json. The scratch file is removed if
// anything fails before the rename.
func (m *RepoManager) saveConfig(cfg RepoConfig) error {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.ConfigPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	f, err := tmp.NewFile(dir, "config-*.json")
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Chmod(0o640); err != nil {
		f.Close()
		return err
	}
	if err := f.File.Close(); err != nil {
		os.Remove(f.Name())
		return err
	}
	return os.Rename(f.Name(), m.ConfigPath)
}

// LoadRepoConfig reads a previously-persisted RepoConfig, used at daemon
// startup to recover the last-configured repo (spec.md §6.3).
func LoadRepoConfig(path string) (RepoConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RepoConfig{}, err
	}
	var cfg RepoConfig
	if err := json.Unmarshal(b, &cfg); err != nil {
		return RepoConfig{}, err
	}
	return cfg, nil
}
