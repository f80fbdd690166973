package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const tempSuffix = ".tmp"

// FileSystemStore stores blobs on an afero filesystem, normally the OS
// filesystem rooted at STORAGE_PATH. Keys are rooted at "/" inside fs.
type FileSystemStore struct {
	fs afero.Fs
}

// NewFileSystemStore creates a filesystem store rooted at basePath.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{fs: afero.NewBasePathFs(afero.NewOsFs(), basePath)}
}

// NewFileSystemStoreFs wraps an existing afero filesystem. Used by tests
// with afero.NewMemMapFs.
func NewFileSystemStoreFs(fs afero.Fs) *FileSystemStore {
	return &FileSystemStore{fs: fs}
}

// EnsureDir creates the storage root if it doesn't exist.
func (s *FileSystemStore) EnsureDir() error {
	if err := s.fs.MkdirAll("/", 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	return nil
}

// Write streams r into path through a temp file, syncs it and renames it
// into place. A failed write leaves nothing behind.
func (s *FileSystemStore) Write(ctx context.Context, p string, r io.Reader) (int64, error) {
	key, err := fsPath(p)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := s.fs.MkdirAll(filepath.Dir(key), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	tmp := key + "." + uuid.NewString() + tempSuffix
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", tmp, err)
	}

	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Clean up partial file on error
		s.fs.Remove(tmp)
		return 0, fmt.Errorf("failed to write file %s: %w", key, err)
	}

	if err := s.fs.Rename(tmp, key); err != nil {
		s.fs.Remove(tmp)
		return 0, fmt.Errorf("failed to move file into place %s: %w", key, err)
	}
	return n, nil
}

// Open returns a reader for the blob at path.
func (s *FileSystemStore) Open(_ context.Context, p string) (io.ReadCloser, error) {
	key, err := fsPath(p)
	if err != nil {
		return nil, err
	}

	f, err := s.fs.Open(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file %s: %w", key, err)
	}
	return f, nil
}

// Delete removes the blob at path. Missing blobs are not an error.
func (s *FileSystemStore) Delete(_ context.Context, p string) error {
	key, err := fsPath(p)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(key); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", key, err)
	}
	return nil
}

// Exists reports whether a blob is stored at path.
func (s *FileSystemStore) Exists(_ context.Context, p string) (bool, error) {
	key, err := fsPath(p)
	if err != nil {
		return false, err
	}
	fi, err := s.fs.Stat(key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file %s: %w", key, err)
	}
	return !fi.IsDir(), nil
}

// List walks the store and returns every blob, including abandoned temp
// files so the sweeper can reclaim them.
func (s *FileSystemStore) List(ctx context.Context) ([]BlobInfo, error) {
	var blobs []BlobInfo
	err := afero.Walk(s.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		blobs = append(blobs, BlobInfo{
			Path:    strings.TrimPrefix(filepath.ToSlash(p), "/"),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return blobs, nil
}

func fsPath(p string) (string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return "/" + key, nil
}

// HealthCheck verifies the storage root is accessible.
func (s *FileSystemStore) HealthCheck(context.Context) error {
	fi, err := s.fs.Stat("/")
	if err != nil {
		return fmt.Errorf("storage root unavailable: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("storage root is not a directory")
	}
	return nil
}
