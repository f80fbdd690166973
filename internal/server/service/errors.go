package service

import (
	"errors"

	"filehub/internal/server/database"
	"filehub/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrNoContent             = errors.New("no file content provided")
	ErrDigestFailed          = errors.New("failed to compute content digest")
	ErrBlobWriteFailed       = errors.New("failed to write blob")
	ErrBlobDeleteFailed      = errors.New("record deleted but blob removal failed")
	ErrInconsistentReference = errors.New("file is still referenced by duplicates")
	ErrFileTooLarge          = errors.New("file exceeds maximum allowed size")
	ErrNotFound              = errors.New("file not found")

	ErrInvalidFilter = database.ErrInvalidFilter
	ErrBlobNotFound  = storage.ErrBlobNotFound
)
