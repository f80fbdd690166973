package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"filehub/internal/server/config"
	"filehub/internal/server/database"
	"filehub/internal/server/digest"
	"filehub/internal/server/storage"
)

// maxIngestAttempts bounds the retries after losing a fingerprint race.
const maxIngestAttempts = 3

const defaultContentType = "application/octet-stream"

// MetadataStore is the durable record store behind the service.
type MetadataStore interface {
	InsertCanonical(ctx context.Context, rec *database.FileRecord) error
	InsertDuplicate(ctx context.Context, rec *database.FileRecord) (*database.FileRecord, error)
	FindCanonicalByFingerprint(ctx context.Context, fp string) (*database.FileRecord, error)
	GetByID(ctx context.Context, id string) (*database.FileRecord, error)
	DeleteDuplicate(ctx context.Context, id string) (*database.FileRecord, error)
	DeleteCanonical(ctx context.Context, id string) (*database.FileRecord, error)
	Query(ctx context.Context, filter database.FilterSpec, now time.Time) ([]*database.FileRecord, error)
	Totals(ctx context.Context) (*database.Totals, error)
	ReferencedPaths(ctx context.Context) (map[string]struct{}, error)
}

// IngestParams describes one upload.
type IngestParams struct {
	Reader      io.Reader
	Filename    string
	ContentType string
	Size        int64 // declared size, 0 when unknown
}

// IngestResult is returned after a successful upload.
type IngestResult struct {
	Record    *database.FileRecord `json:"file"`
	Duplicate bool                 `json:"duplicate"`
}

// FileSummary is the short form of a canonical record shown on duplicates.
type FileSummary struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	Size             int64     `json:"size"`
	ContentType      string    `json:"content_type"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// FileInfo is returned for metadata queries.
type FileInfo struct {
	*database.FileRecord
	DuplicatesCount int          `json:"duplicates_count"`
	OriginalFile    *FileSummary `json:"original_file_details,omitempty"`
}

// Download is an open blob plus the headers needed to serve it.
type Download struct {
	Reader      io.ReadCloser
	Filename    string
	ContentType string
	Size        int64
}

// Option customizes a FileService.
type Option func(*FileService)

// WithSpoolFs spools uploads on fs instead of the OS filesystem.
func WithSpoolFs(fs afero.Fs, dir string) Option {
	return func(s *FileService) {
		s.spoolFs = fs
		s.spoolDir = dir
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *FileService) {
		s.now = now
	}
}

// FileService contains the deduplication, accounting and search logic.
type FileService struct {
	meta     MetadataStore
	store    storage.Store
	digest   *digest.Engine
	cache    *RecordCache
	spoolFs  afero.Fs
	spoolDir string
	maxSize  int64
	location *time.Location
	now      func() time.Time
}

// NewFileService creates a new file service.
func NewFileService(meta MetadataStore, store storage.Store, engine *digest.Engine, cfg *config.Config, opts ...Option) *FileService {
	s := &FileService{
		meta:     meta,
		store:    store,
		digest:   engine,
		cache:    NewRecordCache(cfg.CacheSize, cfg.CacheTTL),
		spoolFs:  afero.NewOsFs(),
		spoolDir: cfg.SpoolDir,
		maxSize:  cfg.MaxFileSize,
		location: cfg.Location(),
		now:      time.Now,
	}
	for _, apply := range opts {
		apply(s)
	}
	return s
}

// Ingest stores an upload. Content already held by a canonical record
// becomes a duplicate record pointing at it and nothing is written to blob
// storage.
func (s *FileService) Ingest(ctx context.Context, p IngestParams) (*IngestResult, error) {
	if p.Reader == nil {
		return nil, ErrNoContent
	}
	if p.Size > s.maxSize {
		return nil, ErrFileTooLarge
	}

	spool, fp, n, err := s.spool(ctx, p.Reader)
	if err != nil {
		ingestsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	defer func() {
		spool.Close()
		s.spoolFs.Remove(spool.Name())
	}()

	filename := sanitizeFilename(p.Filename)
	contentType := normalizeContentType(p.ContentType, filename)

	for attempt := 1; attempt <= maxIngestAttempts; attempt++ {
		if attempt > 1 {
			ingestRetries.Inc()
		}

		existing, err := s.meta.FindCanonicalByFingerprint(ctx, fp)
		switch {
		case err == nil:
			size := p.Size
			if size <= 0 {
				size = n
			}
			rec, err := s.insertDuplicate(ctx, existing, filename, contentType, size)
			if errors.Is(err, database.ErrNotFound) {
				// canonical deleted since the lookup
				continue
			}
			if err != nil {
				ingestsTotal.WithLabelValues("failed").Inc()
				return nil, err
			}
			ingestsTotal.WithLabelValues("duplicate").Inc()
			dedupSavedBytes.Add(float64(n))
			return &IngestResult{Record: rec, Duplicate: true}, nil

		case errors.Is(err, database.ErrNotFound):
		default:
			ingestsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
		}

		if _, err := spool.Seek(0, io.SeekStart); err != nil {
			ingestsTotal.WithLabelValues("failed").Inc()
			return nil, fmt.Errorf("failed to rewind spool file: %w", err)
		}
		rec, err := s.insertCanonical(ctx, spool, fp, n, filename, contentType)
		if errors.Is(err, database.ErrFingerprintExists) {
			// another upload of the same content won; become its duplicate
			continue
		}
		if err != nil {
			ingestsTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		ingestsTotal.WithLabelValues("canonical").Inc()
		return &IngestResult{Record: rec}, nil
	}

	ingestsTotal.WithLabelValues("failed").Inc()
	return nil, fmt.Errorf("failed to ingest %s: fingerprint %s kept changing after %d attempts", filename, fp, maxIngestAttempts)
}

// spool copies the upload to a temp file while hashing it, reading at most
// maxSize+1 bytes. The caller closes and removes the returned file.
func (s *FileService) spool(ctx context.Context, r io.Reader) (afero.File, string, int64, error) {
	f, err := afero.TempFile(s.spoolFs, s.spoolDir, "filehub-*.spool")
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to create spool file: %w", err)
	}
	fail := func(err error) (afero.File, string, int64, error) {
		f.Close()
		s.spoolFs.Remove(f.Name())
		return nil, "", 0, err
	}

	h := s.digest.NewHash()
	src := io.TeeReader(io.LimitReader(&ctxReader{ctx: ctx, r: r}, s.maxSize+1), h)

	n, err := io.Copy(f, src)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrDigestFailed, err))
	}
	if n > s.maxSize {
		return fail(ErrFileTooLarge)
	}
	return f, digest.Encode(h), n, nil
}

func (s *FileService) insertDuplicate(ctx context.Context, canonical *database.FileRecord, filename, contentType string, size int64) (*database.FileRecord, error) {
	canonicalID := canonical.ID
	rec := &database.FileRecord{
		ID:               uuid.NewString(),
		OriginalFilename: filename,
		StoragePath:      canonical.StoragePath,
		ContentType:      contentType,
		Size:             size,
		UploadedAt:       s.now().UTC(),
		Fingerprint:      canonical.Fingerprint,
		IsDuplicate:      true,
		CanonicalID:      &canonicalID,
	}

	updated, err := s.meta.InsertDuplicate(ctx, rec)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create duplicate record: %w", err)
	}

	slog.Info("duplicate file stored",
		"id", rec.ID,
		"filename", rec.OriginalFilename,
		"canonical_id", updated.ID,
		"reference_count", updated.ReferenceCount,
		"fingerprint", rec.Fingerprint,
	)
	return rec, nil
}

func (s *FileService) insertCanonical(ctx context.Context, content io.Reader, fp string, n int64, filename, contentType string) (*database.FileRecord, error) {
	id := uuid.NewString()
	path := storagePath(fp, id, filename)

	written, err := s.store.Write(ctx, path, content)
	if err == nil && written != n {
		err = fmt.Errorf("wrote %d of %d bytes", written, n)
	}
	if err != nil {
		s.compensate(ctx, path)
		return nil, fmt.Errorf("%w: %v", ErrBlobWriteFailed, err)
	}

	rec := &database.FileRecord{
		ID:               id,
		OriginalFilename: filename,
		StoragePath:      path,
		ContentType:      contentType,
		Size:             written,
		UploadedAt:       s.now().UTC(),
		Fingerprint:      fp,
		ReferenceCount:   1,
	}

	if err := s.meta.InsertCanonical(ctx, rec); err != nil {
		s.compensate(ctx, path)
		if errors.Is(err, database.ErrFingerprintExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create file record: %w", err)
	}

	slog.Info("file stored",
		"id", rec.ID,
		"filename", rec.OriginalFilename,
		"size", rec.Size,
		"fingerprint", rec.Fingerprint,
		"storage_path", rec.StoragePath,
	)
	return rec, nil
}

// compensate removes a blob whose record was never committed.
func (s *FileService) compensate(ctx context.Context, path string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), path); err != nil {
		orphanedBlobs.Inc()
		slog.Error("failed to remove uncommitted blob", "storage_path", path, "error", err)
	}
}

// Delete removes a record. Deleting a duplicate only decrements its
// canonical; deleting a canonical also removes its blob and is refused
// while duplicates still reference it. Returns false for unknown ids.
func (s *FileService) Delete(ctx context.Context, id string) (bool, error) {
	rec, err := s.meta.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	s.cache.Delete(id)

	if rec.IsDuplicate {
		canonical, err := s.meta.DeleteDuplicate(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
		deletesTotal.WithLabelValues("duplicate").Inc()
		slog.Info("duplicate file deleted",
			"id", id,
			"canonical_id", canonical.ID,
			"reference_count", canonical.ReferenceCount,
		)
		return true, nil
	}

	deleted, err := s.meta.DeleteCanonical(ctx, id)
	if err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return false, nil
		case errors.Is(err, database.ErrReferenced):
			return false, fmt.Errorf("%w: delete its duplicates first", ErrInconsistentReference)
		}
		return false, err
	}
	deletesTotal.WithLabelValues("canonical").Inc()

	// The record is committed as gone; a failed blob delete is left to the sweeper.
	if err := s.store.Delete(context.WithoutCancel(ctx), deleted.StoragePath); err != nil {
		orphanedBlobs.Inc()
		slog.Error("failed to delete blob",
			"id", id,
			"storage_path", deleted.StoragePath,
			"error", err,
		)
		return true, fmt.Errorf("%w: %v", ErrBlobDeleteFailed, err)
	}

	slog.Info("file deleted", "id", id, "storage_path", deleted.StoragePath)
	return true, nil
}

// Get returns a record with its duplicate count, or for a duplicate, a
// summary of the canonical it points at.
func (s *FileService) Get(ctx context.Context, id string) (*FileInfo, error) {
	rec, err := s.meta.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.cache.Set(rec)

	info := &FileInfo{FileRecord: rec}
	if !rec.IsDuplicate {
		info.DuplicatesCount = rec.ReferenceCount - 1
		return info, nil
	}

	canonical, err := s.meta.GetByID(ctx, *rec.CanonicalID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return info, nil
		}
		return nil, err
	}
	info.OriginalFile = &FileSummary{
		ID:               canonical.ID,
		OriginalFilename: canonical.OriginalFilename,
		Size:             canonical.Size,
		ContentType:      canonical.ContentType,
		UploadedAt:       canonical.UploadedAt,
	}
	return info, nil
}

// Open returns the blob behind a record. The caller closes the reader.
func (s *FileService) Open(ctx context.Context, id string) (*Download, error) {
	rec, ok := s.cache.Get(id)
	if !ok {
		var err error
		rec, err = s.meta.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		s.cache.Set(rec)
	}

	rc, err := s.store.Open(ctx, rec.StoragePath)
	if err != nil {
		s.cache.Delete(id)
		return nil, err
	}
	return &Download{
		Reader:      rc,
		Filename:    rec.OriginalFilename,
		ContentType: rec.ContentType,
		Size:        rec.Size,
	}, nil
}

// Search returns the records matching filter, most recent first.
func (s *FileService) Search(ctx context.Context, filter database.FilterSpec) ([]*database.FileRecord, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.Location == nil {
		filter.Location = s.location
	}

	records, err := s.meta.Query(ctx, filter, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to search files: %w", err)
	}
	if records == nil {
		records = []*database.FileRecord{}
	}
	return records, nil
}

// List returns every record, most recent first.
func (s *FileService) List(ctx context.Context) ([]*database.FileRecord, error) {
	return s.Search(ctx, database.FilterSpec{})
}

// --- Helpers ---

// ctxReader fails reads once ctx is done, so an abandoned upload stops
// spooling.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// storagePath lays blobs out as <fp[0:2]>/<fp>_<id><ext>.
func storagePath(fp, id, filename string) string {
	return fp[:2] + "/" + fp + "_" + id + safeExt(filename)
}

// safeExt returns the lowercased extension if it is short and
// alphanumeric, otherwise "".
func safeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 || len(ext) > 16 {
		return ""
	}
	for _, c := range ext[1:] {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return ""
		}
	}
	return ext
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")

	// Take only the base name
	name = filepath.Base(name)

	// Limit length
	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 32 {
			ext = ""
		}
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." || name == "/" || name == ".." {
		name = "upload.bin"
	}

	return name
}

// normalizeContentType strips parameters from the declared type. A missing
// or generic declaration falls back to the extension, then to
// application/octet-stream.
func normalizeContentType(declared, filename string) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != defaultContentType {
			return mt
		}
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return defaultContentType
}
