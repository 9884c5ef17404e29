package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid path")
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage holds uploaded videos until the analysis that reads them finishes.
// Keys returned by SaveFile are opaque to callers.
type Storage interface {
	SaveFile(ctx context.Context, r io.Reader, info FileInfo) (string, error)
	OpenFile(ctx context.Context, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, key string) error
}
