package service

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"filehub/internal/server/config"
	"filehub/internal/server/database"
	"filehub/internal/server/digest"
	"filehub/internal/server/storage"
)

const helloSHA256 = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

type testEnv struct {
	svc     *FileService
	meta    *database.MemoryStore
	store   *storage.FileSystemStore
	spoolFs afero.Fs
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvWith(t, nil, nil, opts...)
}

// newTestEnvWith lets a test wrap the metadata or blob store.
func newTestEnvWith(t *testing.T, wrapMeta func(MetadataStore) MetadataStore, wrapStore func(storage.Store) storage.Store, opts ...Option) *testEnv {
	t.Helper()

	engine, err := digest.New(digest.SHA256)
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		MaxFileSize:    1024 * 1024,
		SearchTimezone: "UTC",
		CacheSize:      16,
		CacheTTL:       time.Minute,
	}

	env := &testEnv{
		meta:    database.NewMemoryStore(),
		store:   storage.NewFileSystemStoreFs(afero.NewMemMapFs()),
		spoolFs: afero.NewMemMapFs(),
	}

	var meta MetadataStore = env.meta
	if wrapMeta != nil {
		meta = wrapMeta(meta)
	}
	var store storage.Store = env.store
	if wrapStore != nil {
		store = wrapStore(store)
	}

	opts = append([]Option{WithSpoolFs(env.spoolFs, "/spool")}, opts...)
	env.svc = NewFileService(meta, store, engine, cfg, opts...)
	return env
}

func (e *testEnv) ingest(t *testing.T, name, content string) *IngestResult {
	t.Helper()
	res, err := e.svc.Ingest(context.Background(), IngestParams{
		Reader:   strings.NewReader(content),
		Filename: name,
		Size:     int64(len(content)),
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", name, err)
	}
	return res
}

func (e *testEnv) blobCount(t *testing.T) int {
	t.Helper()
	blobs, err := e.store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return len(blobs)
}

func (e *testEnv) spoolCount(t *testing.T) int {
	t.Helper()
	var n int
	afero.Walk(e.spoolFs, "/", func(_ string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			n++
		}
		return nil
	})
	return n
}

func TestIngest_HelloScenario(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	first := env.ingest(t, "a.txt", "hello")
	if first.Duplicate {
		t.Fatal("first upload should not be a duplicate")
	}
	canonical := first.Record
	if canonical.Fingerprint != helloSHA256 {
		t.Errorf("expected fingerprint %s, got %s", helloSHA256, canonical.Fingerprint)
	}
	if canonical.Size != 5 || canonical.ReferenceCount != 1 || canonical.IsDuplicate {
		t.Errorf("unexpected canonical record %+v", canonical)
	}

	stats, err := env.svc.ComputeStats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.UniqueSizeBytes != 5 {
		t.Errorf("expected unique size 5, got %d", stats.UniqueSizeBytes)
	}

	second := env.ingest(t, "hello2.txt", "hello")
	if !second.Duplicate {
		t.Fatal("second upload should be a duplicate")
	}
	dup := second.Record
	if dup.CanonicalID == nil || *dup.CanonicalID != canonical.ID {
		t.Errorf("duplicate should point at %s, got %v", canonical.ID, dup.CanonicalID)
	}
	if dup.StoragePath != canonical.StoragePath {
		t.Errorf("duplicate should share storage path %s, got %s", canonical.StoragePath, dup.StoragePath)
	}

	info, err := env.svc.Get(ctx, canonical.ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.ReferenceCount != 2 || info.DuplicatesCount != 1 {
		t.Errorf("expected refcount 2 and 1 duplicate, got %d/%d", info.ReferenceCount, info.DuplicatesCount)
	}

	stats, _ = env.svc.ComputeStats(ctx)
	if stats.TotalSizeBytes != 10 || stats.StorageSavingsBytes != 5 || stats.StorageSavingsPercentage != 50 {
		t.Errorf("unexpected stats %+v", stats)
	}
	if env.blobCount(t) != 1 {
		t.Errorf("expected one blob, got %d", env.blobCount(t))
	}

	ok, err := env.svc.Delete(ctx, dup.ID)
	if err != nil || !ok {
		t.Fatalf("delete duplicate: %v, %v", ok, err)
	}
	info, _ = env.svc.Get(ctx, canonical.ID)
	if info.ReferenceCount != 1 {
		t.Errorf("expected refcount 1 after duplicate delete, got %d", info.ReferenceCount)
	}
	if exists, _ := env.store.Exists(ctx, canonical.StoragePath); !exists {
		t.Error("blob should survive duplicate delete")
	}

	ok, err = env.svc.Delete(ctx, canonical.ID)
	if err != nil || !ok {
		t.Fatalf("delete canonical: %v, %v", ok, err)
	}
	if exists, _ := env.store.Exists(ctx, canonical.StoragePath); exists {
		t.Error("blob should be removed with the canonical record")
	}
	all, _ := env.svc.List(ctx)
	if len(all) != 0 {
		t.Errorf("expected empty store, got %d records", len(all))
	}
}

func TestIngest_FingerprintIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	a := env.ingest(t, "one.bin", "same bytes")
	b := env.ingest(t, "two.bin", "same bytes")
	c := env.ingest(t, "three.bin", "other bytes")

	if a.Record.Fingerprint != b.Record.Fingerprint {
		t.Error("identical content should have identical fingerprints")
	}
	if a.Record.Fingerprint == c.Record.Fingerprint {
		t.Error("different content should have different fingerprints")
	}
	if c.Duplicate {
		t.Error("different content should not be a duplicate")
	}
}

func TestIngest_DuplicateSize(t *testing.T) {
	env := newTestEnv(t)
	env.ingest(t, "a.txt", "hello")

	res, err := env.svc.Ingest(context.Background(), IngestParams{
		Reader:   strings.NewReader("hello"),
		Filename: "b.png",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Size != 5 {
		t.Errorf("undeclared size should fall back to bytes read, got %d", res.Record.Size)
	}
	if res.Record.ContentType != "image/png" {
		t.Errorf("expected content type from extension, got %s", res.Record.ContentType)
	}
}

func TestIngest_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("nil reader", func(t *testing.T) {
		env := newTestEnv(t)
		if _, err := env.svc.Ingest(ctx, IngestParams{Filename: "x"}); !errors.Is(err, ErrNoContent) {
			t.Errorf("expected ErrNoContent, got %v", err)
		}
	})

	t.Run("declared size too large", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Ingest(ctx, IngestParams{
			Reader: strings.NewReader("x"),
			Size:   2 * 1024 * 1024,
		})
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
	})

	t.Run("stream larger than limit", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Ingest(ctx, IngestParams{
			Reader: strings.NewReader(strings.Repeat("x", 1024*1024+1)),
		})
		if !errors.Is(err, ErrFileTooLarge) {
			t.Errorf("expected ErrFileTooLarge, got %v", err)
		}
		if env.blobCount(t) != 0 || env.spoolCount(t) != 0 {
			t.Error("oversized upload should leave no blob or spool file")
		}
	})

	t.Run("empty file is accepted", func(t *testing.T) {
		env := newTestEnv(t)
		res := env.ingest(t, "empty.txt", "")
		if res.Record.Size != 0 || res.Duplicate {
			t.Errorf("unexpected record %+v", res.Record)
		}
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("client went away")
}

func TestIngest_AbortedStream(t *testing.T) {
	t.Run("read error", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.svc.Ingest(context.Background(), IngestParams{Reader: failingReader{}, Filename: "x"})
		if !errors.Is(err, ErrDigestFailed) {
			t.Errorf("expected ErrDigestFailed, got %v", err)
		}
		if env.blobCount(t) != 0 || env.spoolCount(t) != 0 {
			t.Error("aborted upload should leave no blob or spool file")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		env := newTestEnv(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := env.svc.Ingest(ctx, IngestParams{Reader: strings.NewReader("hello"), Filename: "x"})
		if !errors.Is(err, ErrDigestFailed) {
			t.Errorf("expected ErrDigestFailed, got %v", err)
		}
		if env.blobCount(t) != 0 || env.spoolCount(t) != 0 {
			t.Error("cancelled upload should leave no blob or spool file")
		}
	})
}

type failingInsertMeta struct {
	MetadataStore
}

func (failingInsertMeta) InsertCanonical(context.Context, *database.FileRecord) error {
	return errors.New("connection refused")
}

type failingWriteStore struct {
	storage.Store
}

func (failingWriteStore) Write(context.Context, string, io.Reader) (int64, error) {
	return 0, errors.New("disk full")
}

type failingDeleteStore struct {
	storage.Store
}

func (failingDeleteStore) Delete(context.Context, string) error {
	return errors.New("permission denied")
}

func TestIngest_Compensation(t *testing.T) {
	ctx := context.Background()

	t.Run("metadata failure removes the blob", func(t *testing.T) {
		env := newTestEnvWith(t, func(m MetadataStore) MetadataStore { return failingInsertMeta{m} }, nil)

		_, err := env.svc.Ingest(ctx, IngestParams{Reader: strings.NewReader("hello"), Filename: "a.txt"})
		if err == nil {
			t.Fatal("expected error")
		}
		if env.blobCount(t) != 0 {
			t.Error("blob should be removed after metadata failure")
		}
		if env.spoolCount(t) != 0 {
			t.Error("spool file should be removed")
		}
	})

	t.Run("blob write failure creates no record", func(t *testing.T) {
		env := newTestEnvWith(t, nil, func(s storage.Store) storage.Store { return failingWriteStore{s} })

		_, err := env.svc.Ingest(ctx, IngestParams{Reader: strings.NewReader("hello"), Filename: "a.txt"})
		if !errors.Is(err, ErrBlobWriteFailed) {
			t.Errorf("expected ErrBlobWriteFailed, got %v", err)
		}
		totals, _ := env.meta.Totals(ctx)
		if totals.TotalFiles != 0 {
			t.Errorf("expected no records, got %d", totals.TotalFiles)
		}
	})
}

func TestIngest_ConcurrentIdenticalUploads(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Ingest(ctx, IngestParams{
				Reader:   strings.NewReader("racing content"),
				Filename: "race.txt",
			})
			if err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	totals, _ := env.meta.Totals(ctx)
	if totals.UniqueFiles != 1 || totals.DuplicateFiles != n-1 {
		t.Errorf("expected 1 canonical and %d duplicates, got %+v", n-1, totals)
	}

	records, _ := env.svc.List(ctx)
	for _, r := range records {
		if !r.IsDuplicate && r.ReferenceCount != n {
			t.Errorf("expected reference count %d, got %d", n, r.ReferenceCount)
		}
	}
	if env.blobCount(t) != 1 {
		t.Errorf("expected exactly one blob, got %d", env.blobCount(t))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id", func(t *testing.T) {
		env := newTestEnv(t)
		ok, err := env.svc.Delete(ctx, "00000000-0000-0000-0000-000000000000")
		if ok || err != nil {
			t.Errorf("expected (false, nil), got (%v, %v)", ok, err)
		}
	})

	t.Run("canonical with duplicates is refused", func(t *testing.T) {
		env := newTestEnv(t)
		canonical := env.ingest(t, "a.txt", "hello").Record
		env.ingest(t, "b.txt", "hello")

		ok, err := env.svc.Delete(ctx, canonical.ID)
		if ok || !errors.Is(err, ErrInconsistentReference) {
			t.Errorf("expected ErrInconsistentReference, got (%v, %v)", ok, err)
		}
		if _, err := env.svc.Get(ctx, canonical.ID); err != nil {
			t.Errorf("canonical should still exist: %v", err)
		}
		if exists, _ := env.store.Exists(ctx, canonical.StoragePath); !exists {
			t.Error("blob should still exist")
		}
	})

	t.Run("blob delete failure still removes the record", func(t *testing.T) {
		env := newTestEnvWith(t, nil, func(s storage.Store) storage.Store { return failingDeleteStore{s} })
		canonical := env.ingest(t, "a.txt", "hello").Record

		ok, err := env.svc.Delete(ctx, canonical.ID)
		if !ok || !errors.Is(err, ErrBlobDeleteFailed) {
			t.Errorf("expected (true, ErrBlobDeleteFailed), got (%v, %v)", ok, err)
		}
		if _, err := env.svc.Get(ctx, canonical.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("record should be gone, got %v", err)
		}
	})

	t.Run("content can be uploaded again after delete", func(t *testing.T) {
		env := newTestEnv(t)
		first := env.ingest(t, "a.txt", "hello").Record
		if _, err := env.svc.Delete(ctx, first.ID); err != nil {
			t.Fatal(err)
		}

		again := env.ingest(t, "a.txt", "hello")
		if again.Duplicate {
			t.Error("re-upload after delete should be canonical")
		}
		if again.Record.StoragePath == first.StoragePath {
			t.Error("each canonical generation should get its own storage path")
		}
	})
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	canonical := env.ingest(t, "report.pdf", "pdf bytes").Record
	dup := env.ingest(t, "copy.pdf", "pdf bytes").Record

	info, err := env.svc.Get(ctx, dup.ID)
	if err != nil {
		t.Fatal(err)
	}
	if info.OriginalFile == nil || info.OriginalFile.ID != canonical.ID {
		t.Fatalf("expected original file details for %s, got %+v", canonical.ID, info.OriginalFile)
	}
	if info.OriginalFile.OriginalFilename != "report.pdf" {
		t.Errorf("expected report.pdf, got %s", info.OriginalFile.OriginalFilename)
	}
	if info.DuplicatesCount != 0 {
		t.Errorf("duplicates have no duplicates, got %d", info.DuplicatesCount)
	}

	if _, err := env.svc.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	canonical := env.ingest(t, "a.txt", "hello").Record
	dup := env.ingest(t, "b.txt", "hello").Record

	for _, id := range []string{canonical.ID, dup.ID} {
		dl, err := env.svc.Open(ctx, id)
		if err != nil {
			t.Fatalf("open %s: %v", id, err)
		}
		got, _ := io.ReadAll(dl.Reader)
		dl.Reader.Close()
		if string(got) != "hello" {
			t.Errorf("expected hello, got %q", got)
		}
	}

	dl, _ := env.svc.Open(ctx, dup.ID)
	dl.Reader.Close()
	if dl.Filename != "b.txt" {
		t.Errorf("download should use the record's own filename, got %s", dl.Filename)
	}

	if _, err := env.svc.Open(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := env.store.Delete(ctx, canonical.StoragePath); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Open(ctx, canonical.ID); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 14, 0, 0, 0, time.UTC)
	clock := now
	env := newTestEnv(t, WithClock(func() time.Time { return clock }))

	upload := func(name, content string, at time.Time) *IngestResult {
		clock = at
		return env.ingest(t, name, content)
	}

	small := upload("small.txt", strings.Repeat("s", 50), now.Add(-40*24*time.Hour))
	mid := upload("Report-Q1.pdf", strings.Repeat("m", 150), now.Add(-3*24*time.Hour))
	large := upload("large.png", strings.Repeat("l", 250), now.Add(-time.Hour))
	clock = now

	tests := []struct {
		name   string
		filter database.FilterSpec
		want   []string
	}{
		{"no filter, newest first", database.FilterSpec{}, []string{large.Record.ID, mid.Record.ID, small.Record.ID}},
		{"size bounds inclusive", database.FilterSpec{MinSize: int64Ptr(150), MaxSize: int64Ptr(250)}, []string{large.Record.ID, mid.Record.ID}},
		{"filename case-insensitive", database.FilterSpec{Filename: "report"}, []string{mid.Record.ID}},
		{"file type substring", database.FilterSpec{FileType: "image"}, []string{large.Record.ID}},
		{"today", database.FilterSpec{DateRange: database.DateRangeToday}, []string{large.Record.ID}},
		{"week", database.FilterSpec{DateRange: database.DateRangeWeek}, []string{large.Record.ID, mid.Record.ID}},
		{"month", database.FilterSpec{DateRange: database.DateRangeMonth}, []string{large.Record.ID, mid.Record.ID}},
		{"conjunction", database.FilterSpec{Filename: "large", MaxSize: int64Ptr(100)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := env.svc.Search(ctx, tt.filter)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d results, got %d", len(tt.want), len(got))
			}
			for i := range got {
				if got[i].ID != tt.want[i] {
					t.Errorf("result %d: expected %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
		})
	}

	t.Run("invalid date range", func(t *testing.T) {
		_, err := env.svc.Search(ctx, database.FilterSpec{DateRange: "decade"})
		if !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("expected ErrInvalidFilter, got %v", err)
		}
	})
}

func int64Ptr(v int64) *int64 { return &v }
