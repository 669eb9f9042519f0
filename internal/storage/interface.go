package storage

import (
	"context"
	"io"
)

// ObjectStorage is the subset of an object store the article archive needs.
type ObjectStorage interface {
	// Upload stores reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download opens the object stored under key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
}
