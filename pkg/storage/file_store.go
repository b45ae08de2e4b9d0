package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"studyshare/pkg/domain"
)

// FileStore saves uploaded files to disk, one subdirectory per category.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base and category directories if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	for _, category := range Categories {
		if err := os.MkdirAll(filepath.Join(basePath, string(category)), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir for %s: %w", category, err)
		}
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes a file under the category directory. An existing file with the
// same key is overwritten.
func (f *FileStore) Save(_ context.Context, category domain.FileCategory, key string, r io.Reader, _ int64, _ string) error {
	target, err := f.resolve(category, key)
	if err != nil {
		return err
	}
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Open returns a reader for a stored file.
func (f *FileStore) Open(_ context.Context, category domain.FileCategory, key string) (io.ReadCloser, error) {
	target, err := f.resolve(category, key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

// Delete removes a stored file. Missing files are not an error.
func (f *FileStore) Delete(_ context.Context, category domain.FileCategory, key string) error {
	target, err := f.resolve(category, key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (f *FileStore) resolve(category domain.FileCategory, key string) (string, error) {
	if !ValidCategory(category) {
		return "", fmt.Errorf("unknown storage category %q", category)
	}
	key = SanitizeFilename(key)
	if key == "" {
		return "", fmt.Errorf("empty storage key")
	}
	return filepath.Join(f.basePath, string(category), key), nil
}
