// Package local implements an artifact store on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/docsynapse-crawler/internal/crawler"
)

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the output root where artifacts are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts under a base directory.
type BlobStore struct {
	baseDir string
}

// New creates the base directory if needed and verifies it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir: filepath.Clean(cfg.BaseDir),
	}, nil
}

// Put writes data to name under the base directory, picking a suffixed name
// when name already exists.
func (s *BlobStore) Put(ctx context.Context, name string, _ string, data io.Reader) (crawler.Artifact, error) {
	if strings.TrimSpace(name) == "" {
		return crawler.Artifact{}, fmt.Errorf("name is required")
	}
	fullPath, err := s.resolve(name)
	if err != nil {
		return crawler.Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return crawler.Artifact{}, fmt.Errorf("put %s: %w", name, err)
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return crawler.Artifact{}, fmt.Errorf("failed to create parent directories: %w", err)
	}

	byteData, err := io.ReadAll(data)
	if err != nil {
		return crawler.Artifact{}, fmt.Errorf("failed to read data from reader: %w", err)
	}
	for attempt := 0; attempt < crawler.MaxNameAttempts; attempt++ {
		target := crawler.CandidateName(fullPath, attempt)
		written, err := writeExclusive(target, byteData)
		if err != nil {
			return crawler.Artifact{}, err
		}
		if written {
			return s.Stat(ctx, target)
		}
	}
	return crawler.Artifact{}, fmt.Errorf("put %s: no free name after %d attempts", name, crawler.MaxNameAttempts)
}

// writeExclusive creates path and writes data to it. It reports false without
// touching the file when path already exists.
func writeExclusive(path string, data []byte) (bool, error) {
	// #nosec G304 -- path is confined to baseDir by resolve.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return false, fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close file: %w", err)
	}
	return true, nil
}

// Open returns a reader for the artifact at path.
func (s *BlobStore) Open(_ context.Context, path string) (io.ReadCloser, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- fullPath is confined to baseDir by resolve.
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, notFound(path, err)
	}
	return f, nil
}

// Stat describes the artifact at path.
func (s *BlobStore) Stat(_ context.Context, path string) (crawler.Artifact, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return crawler.Artifact{}, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		return crawler.Artifact{}, notFound(path, err)
	}
	return crawler.Artifact{
		Path:      fullPath,
		Name:      filepath.Base(fullPath),
		Size:      info.Size(),
		CreatedAt: info.ModTime().UTC(),
	}, nil
}

// Delete removes the artifact at path.
func (s *BlobStore) Delete(_ context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return notFound(path, err)
	}
	return nil
}

// resolve accepts either a path already under baseDir or one relative to it,
// and rejects anything escaping baseDir.
func (s *BlobStore) resolve(path string) (string, error) {
	cleaned := filepath.Clean(path)
	if !strings.HasPrefix(cleaned, s.baseDir+string(filepath.Separator)) {
		cleaned = filepath.Clean(filepath.Join(s.baseDir, path))
	}
	if !strings.HasPrefix(cleaned, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleaned, nil
}

func notFound(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("artifact %s: %w", path, crawler.ErrNotFound)
	}
	return fmt.Errorf("artifact %s: %w", path, err)
}
