package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local metadata store. Every operation runs under
// one mutex, which gives it the same atomicity as the Postgres repository's
// transactions. Used for development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*FileRecord
	canonical map[string]string // fingerprint -> canonical record ID
	order     []string          // insertion order, for stable sorting
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*FileRecord),
		canonical: make(map[string]string),
	}
}

// InsertCanonical adds a canonical record, failing with ErrFingerprintExists
// if another canonical record already holds the fingerprint.
func (m *MemoryStore) InsertCanonical(_ context.Context, rec *FileRecord) error {
	if rec.IsDuplicate || rec.CanonicalID != nil {
		return fmt.Errorf("failed to create file record: not a canonical record")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.canonical[rec.Fingerprint]; exists {
		return ErrFingerprintExists
	}
	if _, exists := m.records[rec.ID]; exists {
		return fmt.Errorf("failed to create file record: duplicate id %s", rec.ID)
	}

	m.records[rec.ID] = rec.Clone()
	m.canonical[rec.Fingerprint] = rec.ID
	m.order = append(m.order, rec.ID)
	return nil
}

// InsertDuplicate adds a duplicate record and increments its canonical's
// reference count in one step. Returns the updated canonical.
func (m *MemoryStore) InsertDuplicate(_ context.Context, rec *FileRecord) (*FileRecord, error) {
	if !rec.IsDuplicate || rec.CanonicalID == nil {
		return nil, fmt.Errorf("failed to create duplicate record: missing canonical reference")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	canonical, ok := m.records[*rec.CanonicalID]
	if !ok || canonical.IsDuplicate {
		return nil, ErrNotFound
	}
	if canonical.Fingerprint != rec.Fingerprint {
		return nil, ErrFingerprintMismatch
	}
	if _, exists := m.records[rec.ID]; exists {
		return nil, fmt.Errorf("failed to create duplicate record: duplicate id %s", rec.ID)
	}

	canonical.ReferenceCount++
	m.records[rec.ID] = rec.Clone()
	m.order = append(m.order, rec.ID)
	return canonical.Clone(), nil
}

// FindCanonicalByFingerprint returns the canonical record for fp.
func (m *MemoryStore) FindCanonicalByFingerprint(_ context.Context, fp string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.canonical[fp]
	if !ok {
		return nil, ErrNotFound
	}
	return m.records[id].Clone(), nil
}

// GetByID returns a record by ID.
func (m *MemoryStore) GetByID(_ context.Context, id string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// DeleteDuplicate removes a duplicate record and decrements its canonical.
// Returns the updated canonical.
func (m *MemoryStore) DeleteDuplicate(_ context.Context, id string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || !rec.IsDuplicate {
		return nil, ErrNotFound
	}
	canonical, ok := m.records[*rec.CanonicalID]
	if !ok {
		return nil, fmt.Errorf("failed to delete duplicate %s: canonical %s missing", id, *rec.CanonicalID)
	}

	canonical.ReferenceCount--
	m.remove(id)
	return canonical.Clone(), nil
}

// DeleteCanonical removes a canonical record that has no live duplicates.
// Returns ErrReferenced when duplicates still point at it.
func (m *MemoryStore) DeleteCanonical(_ context.Context, id string) (*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok || rec.IsDuplicate {
		return nil, ErrNotFound
	}
	if rec.ReferenceCount > 1 {
		return nil, ErrReferenced
	}

	delete(m.canonical, rec.Fingerprint)
	m.remove(id)
	rec.ReferenceCount = 0
	return rec.Clone(), nil
}

// Query returns the records matching filter in the filter's ordering,
// most recent first by default.
func (m *MemoryStore) Query(_ context.Context, filter FilterSpec, now time.Time) ([]*FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*FileRecord
	for i := range m.order {
		idx := len(m.order) - 1 - i
		if filter.Ordering.ascendingInsertion() {
			idx = i
		}
		rec := m.records[m.order[idx]]
		if filter.Matches(rec, now) {
			out = append(out, rec.Clone())
		}
	}

	// out is already in tie-break order; a stable sort keeps it for equal keys
	sort.SliceStable(out, func(i, j int) bool {
		return filter.Ordering.compare(out[i], out[j]) < 0
	})
	return out, nil
}

// Totals aggregates every record under a single lock.
func (m *MemoryStore) Totals(_ context.Context) (*Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]*FileRecord, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, rec)
	}
	return Summarize(all), nil
}

// ReferencedPaths returns the storage paths owned by canonical records.
func (m *MemoryStore) ReferencedPaths(_ context.Context) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paths := make(map[string]struct{}, len(m.canonical))
	for _, id := range m.canonical {
		paths[m.records[id].StoragePath] = struct{}{}
	}
	return paths, nil
}

// HealthCheck always succeeds.
func (m *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// remove deletes id from the record map and the insertion order.
// Caller holds m.mu.
func (m *MemoryStore) remove(id string) {
	delete(m.records, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
