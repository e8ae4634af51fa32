// Package storage stores uploaded submission files in an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mbolis/quick-forms/config"
)

var ErrNotExist = errors.New("storage: object does not exist")

type Storage interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	// URL returns the address the stored object can be downloaded from.
	URL(ctx context.Context, key string) (string, error)
}

const uploadPrefix = "uploads/forms"

// NewKey returns a fresh object key for an uploaded file, grouped by
// upload date: uploads/forms/2006/01/02/<uuid><ext>.
func NewKey(now time.Time, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.ReplaceAll(filename, `\`, "/"))))
	if len(ext) > 16 {
		ext = ""
	}
	return path.Join(uploadPrefix, now.UTC().Format("2006/01/02"), uuid.NewString()+ext)
}

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case config.StorageFS:
		return NewFS(cfg.MediaDir, cfg.MediaURL)
	case config.StorageS3:
		return NewS3(ctx, cfg)
	}
	return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
}

// RemoveAll removes every key, returning the first error met.
func RemoveAll(ctx context.Context, s Storage, keys []string) error {
	var first error
	for _, k := range keys {
		if err := s.Remove(ctx, k); err != nil && !errors.Is(err, ErrNotExist) && first == nil {
			first = fmt.Errorf("remove %s: %w", k, err)
		}
	}
	return first
}
