package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound is returned when the bucket has no object under the key.
var ErrObjectNotFound = errors.New("object not found")

// Store abstracts S3-compatible object storage for file payloads.
type Store interface {
	PutFile(ctx context.Context, bucket, key, path, contentType string) (ObjectInfo, error)
	GetFile(ctx context.Context, bucket, key, path string) error
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}
