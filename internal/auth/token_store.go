package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/voyago/tripchat/internal/domain"
)

// TokenStore persists the bearer credential used to authenticate against the
// chat backend. The backing filesystem is abstracted so tests can run against
// an in-memory one.
type TokenStore struct {
	fs   afero.Fs
	path string
}

// NewTokenStore creates a store persisting the token at path.
func NewTokenStore(fs afero.Fs, path string) *TokenStore {
	return &TokenStore{fs: fs, path: path}
}

// Path returns the location of the token file.
func (s *TokenStore) Path() string {
	return s.path
}

// Load reads the stored token. A missing or empty file yields
// domain.ErrNoCredentials: the user is simply logged out.
func (s *TokenStore) Load() (string, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", domain.ErrNoCredentials
		}
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", domain.ErrNoCredentials
	}
	return token, nil
}

// Save writes the token, creating parent directories as needed. The file is
// user-readable only.
func (s *TokenStore) Save(token string) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := afero.WriteFile(s.fs, s.path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Clear removes the stored token. Clearing an absent token is not an error.
func (s *TokenStore) Clear() error {
	err := s.fs.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}
