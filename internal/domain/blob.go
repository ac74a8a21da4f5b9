package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to long-term storage. Used by the archive job
// to offload aged trade history before pruning it from the database.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
