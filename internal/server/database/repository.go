package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound            = errors.New("file record not found")
	ErrFingerprintExists   = errors.New("a canonical record with this fingerprint already exists")
	ErrFingerprintMismatch = errors.New("duplicate fingerprint does not match its canonical record")
	ErrReferenced          = errors.New("canonical record still has duplicates")
)

// recordColumns is the column list shared by every SELECT.
const recordColumns = `id, original_filename, storage_path, content_type, size,
	uploaded_at, fingerprint, is_duplicate, canonical_id, reference_count`

// Repository is the PostgreSQL metadata store.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// InsertCanonical inserts a canonical record. The partial unique index on
// fingerprint makes this an atomic check-and-insert; the loser of a race
// gets ErrFingerprintExists.
func (r *Repository) InsertCanonical(ctx context.Context, rec *FileRecord) error {
	if rec.IsDuplicate || rec.CanonicalID != nil {
		return fmt.Errorf("failed to create file record: not a canonical record")
	}

	if err := insertRecord(ctx, r.db.Pool, rec); err != nil {
		if isUniqueViolation(err) {
			return ErrFingerprintExists
		}
		return fmt.Errorf("failed to create file record: %w", err)
	}
	return nil
}

// InsertDuplicate locks the canonical row, bumps its reference count and
// inserts the duplicate in one transaction. A canonical deleted
// concurrently yields ErrNotFound.
func (r *Repository) InsertDuplicate(ctx context.Context, rec *FileRecord) (*FileRecord, error) {
	if !rec.IsDuplicate || rec.CanonicalID == nil {
		return nil, fmt.Errorf("failed to create duplicate record: missing canonical reference")
	}

	var canonical *FileRecord
	err := r.db.RunInTx(ctx, func(tx pgx.Tx) error {
		var err error
		canonical, err = scanRecord(tx.QueryRow(ctx, `
			SELECT `+recordColumns+`
			FROM file_records
			WHERE id = $1 AND NOT is_duplicate
			FOR UPDATE
		`, *rec.CanonicalID))
		if err != nil {
			return err
		}
		if canonical.Fingerprint != rec.Fingerprint {
			return ErrFingerprintMismatch
		}

		if err := tx.QueryRow(ctx,
			"UPDATE file_records SET reference_count = reference_count + 1 WHERE id = $1 RETURNING reference_count",
			canonical.ID,
		).Scan(&canonical.ReferenceCount); err != nil {
			return fmt.Errorf("failed to increment reference count: %w", err)
		}

		if err := insertRecord(ctx, tx, rec); err != nil {
			return fmt.Errorf("failed to create duplicate record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canonical, nil
}

// FindCanonicalByFingerprint returns the canonical record holding fp.
func (r *Repository) FindCanonicalByFingerprint(ctx context.Context, fp string) (*FileRecord, error) {
	return scanRecord(r.db.Pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM file_records
		WHERE fingerprint = $1 AND NOT is_duplicate
	`, fp))
}

// GetByID retrieves a record by its ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return scanRecord(r.db.Pool.QueryRow(ctx,
		"SELECT "+recordColumns+" FROM file_records WHERE id = $1", id))
}

// DeleteDuplicate removes a duplicate record and decrements its canonical's
// reference count in one transaction.
func (r *Repository) DeleteDuplicate(ctx context.Context, id string) (*FileRecord, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var canonical *FileRecord
	err := r.db.RunInTx(ctx, func(tx pgx.Tx) error {
		var canonicalID string
		err := tx.QueryRow(ctx,
			"DELETE FROM file_records WHERE id = $1 AND is_duplicate RETURNING canonical_id", id,
		).Scan(&canonicalID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to delete duplicate record: %w", err)
		}

		canonical, err = scanRecord(tx.QueryRow(ctx, `
			UPDATE file_records
			SET reference_count = reference_count - 1
			WHERE id = $1
			RETURNING `+recordColumns, canonicalID))
		if err != nil {
			return fmt.Errorf("failed to decrement reference count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return canonical, nil
}

// DeleteCanonical removes a canonical record whose reference count is at
// most one. The row lock serializes it against InsertDuplicate.
func (r *Repository) DeleteCanonical(ctx context.Context, id string) (*FileRecord, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	var rec *FileRecord
	err := r.db.RunInTx(ctx, func(tx pgx.Tx) error {
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, `
			SELECT `+recordColumns+`
			FROM file_records
			WHERE id = $1 AND NOT is_duplicate
			FOR UPDATE
		`, id))
		if err != nil {
			return err
		}
		if rec.ReferenceCount > 1 {
			return ErrReferenced
		}

		if _, err := tx.Exec(ctx, "DELETE FROM file_records WHERE id = $1", id); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
				return ErrReferenced
			}
			return fmt.Errorf("failed to delete file record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rec.ReferenceCount = 0
	return rec, nil
}

// Query returns the records matching filter in the filter's ordering,
// most recent first by default.
func (r *Repository) Query(ctx context.Context, filter FilterSpec, now time.Time) ([]*FileRecord, error) {
	where, args := buildSearchWhere(filter, now)

	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(
		"SELECT %s FROM file_records %s ORDER BY %s",
		recordColumns, where, filter.Ordering.orderBy(),
	), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search file records: %w", err)
	}
	defer rows.Close()

	var records []*FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Totals returns aggregate counts and sizes from a single statement.
func (r *Repository) Totals(ctx context.Context) (*Totals, error) {
	t := &Totals{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT is_duplicate),
			COUNT(*) FILTER (WHERE is_duplicate),
			COALESCE(SUM(size), 0),
			COALESCE(SUM(size) FILTER (WHERE NOT is_duplicate), 0)
		FROM file_records
	`).Scan(
		&t.TotalFiles,
		&t.UniqueFiles,
		&t.DuplicateFiles,
		&t.TotalSizeBytes,
		&t.UniqueSizeBytes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get totals: %w", err)
	}
	return t, nil
}

// ReferencedPaths returns every storage path owned by a canonical record.
func (r *Repository) ReferencedPaths(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT storage_path FROM file_records WHERE NOT is_duplicate")
	if err != nil {
		return nil, fmt.Errorf("failed to query storage paths: %w", err)
	}
	defer rows.Close()

	paths := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan storage path: %w", err)
		}
		paths[p] = struct{}{}
	}
	return paths, rows.Err()
}

// HealthCheck pings the database.
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertRecord(ctx context.Context, q querier, rec *FileRecord) error {
	_, err := q.Exec(ctx, `
		INSERT INTO file_records (
			id, original_filename, storage_path, content_type, size,
			uploaded_at, fingerprint, is_duplicate, canonical_id, reference_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		rec.ID,
		rec.OriginalFilename,
		rec.StoragePath,
		rec.ContentType,
		rec.Size,
		rec.UploadedAt,
		rec.Fingerprint,
		rec.IsDuplicate,
		rec.CanonicalID,
		rec.ReferenceCount,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*FileRecord, error) {
	rec := &FileRecord{}
	err := row.Scan(
		&rec.ID,
		&rec.OriginalFilename,
		&rec.StoragePath,
		&rec.ContentType,
		&rec.Size,
		&rec.UploadedAt,
		&rec.Fingerprint,
		&rec.IsDuplicate,
		&rec.CanonicalID,
		&rec.ReferenceCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

// buildSearchWhere turns a filter into a WHERE clause and its arguments.
func buildSearchWhere(filter FilterSpec, now time.Time) (string, []any) {
	var conditions []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if filter.Filename != "" {
		add("original_filename ILIKE $%d", "%"+escapeLike(filter.Filename)+"%")
	}
	if filter.FileType != "" {
		add("content_type ILIKE $%d", "%"+escapeLike(filter.FileType)+"%")
	}
	if filter.MinSize != nil {
		add("size >= $%d", *filter.MinSize)
	}
	if filter.MaxSize != nil {
		add("size <= $%d", *filter.MaxSize)
	}
	if from, to, ok := filter.Window(now); ok {
		add("uploaded_at >= $%d", from)
		if !to.IsZero() {
			add("uploaded_at < $%d", to)
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// escapeLike escapes LIKE wildcards so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// validID reports whether id can be compared against the UUID column.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
