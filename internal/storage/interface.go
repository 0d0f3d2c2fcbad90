package storage

import (
	"context"
	"io"
)

// ObjectStorage is the archive for alert reference images. Keys are opaque
// to the store; callers own the layout (alerts/<id>/reference).
type ObjectStorage interface {
	// Upload writes one object.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Download streams one object back. The caller closes the reader.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL for an object.
	GetURL(key string) string

	// Delete removes an object.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, key string) (bool, error)
}
