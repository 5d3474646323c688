package composer

import (
	"encoding/json"
	"os"
)

// wireInfoJSON is `info.json`'s on-disk shape (spec.md §6.4).
type wireInfoJSON struct {
	AppID       string   `json:"appid"`
	Version     string   `json:"version"`
	Arch        []string `json:"arch"`
	Kind        string   `json:"kind"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Runtime     string   `json:"runtime"`
	Base        string   `json:"base"`

	Permissions *struct {
		Filesystem *struct {
			User map[string]string `json:"user"`
		} `json:"filesystem"`
	} `json:"permissions"`

	Overlayfs *struct {
		Mounts []struct {
			Source      string `json:"source"`
			Destination string `json:"destination"`
		} `json:"mounts"`
	} `json:"overlayfs"`
}

// LoadInfoJSON reads and parses a layer's `info.json` at path (spec.md
// §6.4).
func LoadInfoJSON(path string) (InfoJSON, Permissions, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return InfoJSON{}, Permissions{}, err
	}
	var w wireInfoJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return InfoJSON{}, Permissions{}, err
	}

	info := InfoJSON{
		AppID:       w.AppID,
		Version:     w.Version,
		Arch:        w.Arch,
		Kind:        w.Kind,
		Name:        w.Name,
		Description: w.Description,
		Runtime:     w.Runtime,
		Base:        w.Base,
	}
	var perm Permissions
	if w.Permissions != nil && w.Permissions.Filesystem != nil {
		perm.FilesystemUser = w.Permissions.Filesystem.User
	}
	if w.Overlayfs != nil {
		for _, m := range w.Overlayfs.Mounts {
			info.OverlayMounts = append(info.OverlayMounts, Mount{Source: m.Source, Destination: m.Destination})
		}
	}
	return info, perm, nil
}
