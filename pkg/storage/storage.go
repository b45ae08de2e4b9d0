package storage

import (
	"context"
	"io"
	"strings"

	"studyshare/pkg/domain"
)

// Categories is the fixed set of storage buckets for uploaded artifacts.
var Categories = []domain.FileCategory{
	domain.CategoryProject,
	domain.CategoryReport,
	domain.CategoryPPT,
	domain.CategoryNote,
}

// ValidCategory reports whether the category is one of the known buckets.
func ValidCategory(c domain.FileCategory) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// BlobStore is the storage-location abstraction for uploaded files. Keys are
// stored filenames scoped to a category.
type BlobStore interface {
	Save(ctx context.Context, category domain.FileCategory, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, category domain.FileCategory, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, category domain.FileCategory, key string) error
}

// SanitizeFilename strips path components and replaces unsafe runes so the
// result is safe to join into a storage path. Returns "file" when nothing
// usable remains.
func SanitizeFilename(name string) string {
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	cleaned := strings.Trim(b.String(), "._")
	if cleaned == "" {
		return "file"
	}
	return cleaned
}
