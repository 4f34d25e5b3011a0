package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned by GetObject when the key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage is the object store holding clustering run archives.
type ObjectStorage interface {
	PutObject(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// GetObject returns the object body. The caller closes it.
	GetObject(ctx context.Context, key string) (io.ReadCloser, error)

	// ObjectURL returns where the object can be fetched from.
	ObjectURL(key string) string
}
