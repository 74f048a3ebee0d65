package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sessioncore "github.com/mikey-austin/cuebox/internal/modules/session_core"
)

// Store persists sessions as one JSON file per session under root/<kind>/.
type Store struct {
	root string
	mu   sync.Mutex
}

// New creates a store at root.
func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("storage path required")
	}
	return &Store{root: root}, nil
}

func (s *Store) sessionPath(key sessioncore.SessionKey) string {
	return filepath.Join(s.root, safeFilename(key.Kind), safeFilename(key.ID)+".json")
}

// Load reads the session file for key.
func (s *Store) Load(_ context.Context, key sessioncore.SessionKey) (sessioncore.State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state sessioncore.State
	if err := readJSON(s.sessionPath(key), &state); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sessioncore.State{}, false, nil
		}
		return sessioncore.State{}, false, fmt.Errorf("filestore: load %s: %w", key, err)
	}
	state.Key = key
	return state, true, nil
}

// Save writes the session file for key atomically.
func (s *Store) Save(_ context.Context, key sessioncore.SessionKey, state sessioncore.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.sessionPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeJSON(path, state)
}

// Delete removes the session file for key.
func (s *Store) Delete(key sessioncore.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.sessionPath(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func safeFilename(id string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_")
	return replacer.Replace(id)
}
