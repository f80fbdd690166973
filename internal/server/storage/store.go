package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

var ErrBlobNotFound = errors.New("blob not found")

// Store defines the interface for blob storage backends.
// Paths are slash-separated keys relative to the backend root.
type Store interface {
	Write(ctx context.Context, path string, r io.Reader) (int64, error)
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context) ([]BlobInfo, error)
}

// BlobInfo describes a stored blob.
type BlobInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// cleanPath rejects absolute paths and anything escaping the store root.
func cleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("invalid blob path: empty")
	}
	cleaned := path.Clean(p)
	if path.IsAbs(cleaned) || cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return cleaned, nil
}
