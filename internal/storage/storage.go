// Package storage holds the object stores used for uploaded media.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound = errors.New("object not found")
	// ErrNoPresign is returned by stores that cannot hand out direct URLs.
	ErrNoPresign = errors.New("presigned urls not supported")
)

type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// ObjectStore is a flat key/value blob store.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
	Ping(ctx context.Context) error
	Provider() string
}
