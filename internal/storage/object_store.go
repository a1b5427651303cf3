package storage

import (
	"context"
	"io"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore is the persistence boundary for uploaded models and generated
// artifacts. The local implementation backs the serving root; the S3
// implementation is an optional mirror for finalized artifacts.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error

	GetObject(ctx context.Context, key string) ([]byte, error)

	DeleteObject(ctx context.Context, key string) error

	ListObjects(ctx context.Context, prefix string) ([]Object, error)
}
