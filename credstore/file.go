package credstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore implements Store on the local filesystem, one file per key.
// Files are created with 0600 permissions under a directory owned by the
// current user, so tokens survive process restarts without being readable
// by other accounts.
type FileStore struct {
	dir string
}

// Config configures the file-backed credential store.
type Config struct {
	// Dir is the directory holding the credential files.
	// Defaults to $HOME/.authkit.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ApplyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) ApplyDefaults() {
	if c.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Dir = filepath.Join(home, ".authkit")
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("credstore: dir is required")
	}
	return nil
}

// NewFileStore creates a file-backed store rooted at cfg.Dir, creating the
// directory if needed.
func NewFileStore(cfg Config) (*FileStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve dir: %v", ErrUnavailable, err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create dir: %v", ErrUnavailable, err)
	}
	return &FileStore{dir: abs}, nil
}

// Get returns the value stored for key, or "" if the key is not present.
func (s *FileStore) Get(key string) (string, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("%w: read %s: %v", ErrUnavailable, key, err)
	}
	return string(data), nil
}

// Set writes the value for key.
func (s *FileStore) Set(key, value string) error {
	if err := os.WriteFile(s.path(key), []byte(value), 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

// Remove deletes the key. Removing a missing key is a no-op.
func (s *FileStore) Remove(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: remove %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, filepath.Clean(key))
}
