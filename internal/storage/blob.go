package storage

import (
	"context"
	"errors"
	"io"
)

var ErrBadKey = errors.New("storage: key must be a relative path inside the store")

// BlobStore keeps exported grade workbooks.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader) (string, error) // returns canonical key
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	URL(key string) (string, error) // fs returns "file://..."
}
