// Package local archives snapshots on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the filesystem archive.
type Config struct {
	// BaseDir is the root directory snapshots are written under.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes objects below a base directory.
type BlobStore struct {
	baseDir string
}

// New prepares BaseDir, creating it when missing, and checks it is writable.
func New(cfg Config) (*BlobStore, error) {
	base := strings.TrimSpace(cfg.BaseDir)
	if base == "" {
		return nil, errors.New("base directory is required")
	}
	info, err := os.Stat(base)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if mkErr := os.MkdirAll(base, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory %q is not a directory", base)
	}

	tmp, err := os.CreateTemp(base, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	name := tmp.Name()
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove temp file: %w", err)
	}
	return &BlobStore{baseDir: filepath.Clean(base)}, nil
}

// PutObject writes data to baseDir/path and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	full := filepath.Join(s.baseDir, path)
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory", path)
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	if err := os.WriteFile(full, payload, 0o600); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return "file://" + full, nil
}
