package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage. Outcome archival is its only
// producer in this process.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
