// Package auth holds the model's credentials: loading and saving access
// tokens, and signing registration challenges.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Credentials pair a coordinator-assigned model id with its access token.
type Credentials struct {
	ModelID     string `json:"model_id"`
	AccessToken string `json:"access_token"`
}

// ErrNotRegistered means the store file exists but holds no entry for the
// requested email/model pair.
var ErrNotRegistered = errors.New("auth: model not registered")

// Store persists credentials keyed by `{email}.{model}` in a sybl.json file
// under the XDG data directory.
type Store struct {
	path string
}

// NewStore builds a store at the given path. An empty path resolves
// $XDG_DATA_HOME/sybl.json, falling back to ~/.local/share/sybl.json.
func NewStore(path string) *Store {
	if path == "" {
		base := os.Getenv("XDG_DATA_HOME")
		if base == "" {
			if home, err := os.UserHomeDir(); err == nil {
				base = filepath.Join(home, ".local", "share")
			} else {
				base = "."
			}
		}
		path = filepath.Join(base, "sybl.json")
	}
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Load returns the credentials stored for an email/model pair.
func (s *Store) Load(email, modelName string) (Credentials, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: read %s: %w", s.path, err)
	}
	entries := map[string]Credentials{}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return Credentials{}, fmt.Errorf("auth: parse %s: %w", s.path, err)
	}
	creds, ok := entries[key(email, modelName)]
	if !ok {
		return Credentials{}, fmt.Errorf("%w: %s.%s", ErrNotRegistered, email, modelName)
	}
	return creds, nil
}

// Save writes credentials for an email/model pair, creating the file and its
// directory when missing and preserving other entries.
func (s *Store) Save(email, modelName string, creds Credentials) error {
	entries := map[string]Credentials{}
	if raw, err := os.ReadFile(s.path); err == nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return fmt.Errorf("auth: parse %s: %w", s.path, err)
		}
	}
	entries[key(email, modelName)] = creds

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("auth: create %s: %w", dir, err)
		}
	}
	out, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, out, 0o600); err != nil {
		return fmt.Errorf("auth: write %s: %w", s.path, err)
	}
	return nil
}

func key(email, modelName string) string { return email + "." + modelName }
