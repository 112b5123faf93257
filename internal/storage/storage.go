// Package storage provides persistent storage for job result files.
// It defines the Storage interface (port) for hexagonal architecture and
// implementations for local disk and S3 storage.
package storage

import (
	"context"
	"io"
)

// Storage defines the interface for result file storage.
// Files are addressed by bare names inside a single output directory;
// names containing path separators are rejected with ErrInvalidName.
type Storage interface {
	// Save writes data under name and returns the file path.
	// The file becomes visible only once it is completely written.
	Save(ctx context.Context, name string, data io.Reader) (path string, err error)

	// Open returns a reader for a stored file.
	// The caller is responsible for closing the returned ReadCloser.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Remove deletes the named files.
	// It continues even if some files fail to delete.
	Remove(ctx context.Context, names []string) error

	// UploadToS3 uploads data to S3 and returns the public URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key string, data io.Reader) (url string, err error)
}
