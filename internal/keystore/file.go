package keystore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps each value in its own 0600 file under a 0700 directory.
// Names are used as file names after replacing path separators, so the
// dotted naming convention of the key manager maps to flat files.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the backing directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		cfgDir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(cfgDir, "HealthSync", "keys")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) (string, error) {
	if name == "" {
		return "", errors.New("empty keystore name")
	}
	safe := strings.ReplaceAll(strings.ReplaceAll(name, string(os.PathSeparator), "_"), "..", "_")
	return filepath.Join(s.dir, safe), nil
}

// Save writes the value with restricted permissions.
func (s *FileStore) Save(_ context.Context, name string, value []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(p, value, 0o600)
}

// Retrieve reads the value, returning ErrNotFound for absent names.
func (s *FileStore) Retrieve(_ context.Context, name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Delete removes the value. Deleting an absent name is not an error.
func (s *FileStore) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
