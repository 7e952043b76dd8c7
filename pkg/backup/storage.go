// Package backup stores archived recordings on the local filesystem or in
// an S3-compatible object store.
package backup

import (
	"context"
	"io"
)

// Storage defines interface for archive storage
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}
