package api

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TokenStore keeps the bearer token in a single file at a fixed path, the
// CLI analogue of the browser's one-key credential slot.
type TokenStore struct {
	path string
}

func NewTokenStore(path string) *TokenStore {
	return &TokenStore{path: path}
}

func (t *TokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(t.path), 0700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	if err := os.WriteFile(t.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	return nil
}

// Load returns the stored token, or "" when none has been saved.
func (t *TokenStore) Load() (string, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (t *TokenStore) Clear() error {
	err := os.Remove(t.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove credential: %w", err)
	}
	return nil
}
