package database

import "time"

// FileRecord is one logical reference to a (possibly shared) stored blob.
type FileRecord struct {
	ID               string    `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	StoragePath      string    `json:"storage_path"`
	ContentType      string    `json:"content_type"`
	Size             int64     `json:"size"`
	UploadedAt       time.Time `json:"uploaded_at"`
	Fingerprint      string    `json:"fingerprint"`
	IsDuplicate      bool      `json:"is_duplicate"`
	CanonicalID      *string   `json:"original_file,omitempty"` // nil for canonical records
	ReferenceCount   int       `json:"reference_count"`         // only meaningful on canonical records
}

// Clone returns a deep copy so callers never share a record with a store.
func (r *FileRecord) Clone() *FileRecord {
	c := *r
	if r.CanonicalID != nil {
		id := *r.CanonicalID
		c.CanonicalID = &id
	}
	return &c
}

// Totals holds the raw aggregates behind storage statistics.
type Totals struct {
	TotalFiles      int64
	UniqueFiles     int64
	DuplicateFiles  int64
	TotalSizeBytes  int64
	UniqueSizeBytes int64
}

// Summarize folds a set of records into Totals.
func Summarize(records []*FileRecord) *Totals {
	t := &Totals{}
	for _, r := range records {
		t.TotalFiles++
		t.TotalSizeBytes += r.Size
		if r.IsDuplicate {
			t.DuplicateFiles++
			continue
		}
		t.UniqueFiles++
		t.UniqueSizeBytes += r.Size
	}
	return t
}
