package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
)

// loadRemotes reads the store's remotes.json, if present.
func (s *Store) loadRemotes(ctx context.Context) error {
	b, err := os.ReadFile(s.remotesConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var list []Remote
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range list {
		s.remotes[r.Name] = r
	}
	return nil
}

// saveRemotes persists the current remote set.
func (s *Store) saveRemotes(ctx context.Context) error {
	s.mu.RLock()
	list := make([]Remote, 0, len(s.remotes))
	for _, r := range s.remotes {
		list = append(list, r)
	}
	s.mu.RUnlock()

	b, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.remotesConfigPath(), b, 0o640)
}
