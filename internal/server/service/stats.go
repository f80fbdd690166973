package service

import (
	"context"
	"fmt"

	"filehub/internal/server/database"
)

// StorageStats summarizes how much space deduplication saves.
type StorageStats struct {
	TotalFiles               int64   `json:"total_files"`
	UniqueFiles              int64   `json:"unique_files"`
	DuplicateFiles           int64   `json:"duplicate_files"`
	TotalSizeBytes           int64   `json:"total_size_bytes"`
	UniqueSizeBytes          int64   `json:"unique_size_bytes"`
	StorageSavingsBytes      int64   `json:"storage_savings_bytes"`
	StorageSavingsPercentage float64 `json:"storage_savings_percentage"`
}

// NewStorageStats derives savings from raw totals. The percentage is taken
// against the logical total and is 0 for an empty store.
func NewStorageStats(t *database.Totals) *StorageStats {
	stats := &StorageStats{
		TotalFiles:          t.TotalFiles,
		UniqueFiles:         t.UniqueFiles,
		DuplicateFiles:      t.DuplicateFiles,
		TotalSizeBytes:      t.TotalSizeBytes,
		UniqueSizeBytes:     t.UniqueSizeBytes,
		StorageSavingsBytes: t.TotalSizeBytes - t.UniqueSizeBytes,
	}
	if t.TotalSizeBytes > 0 {
		stats.StorageSavingsPercentage = float64(stats.StorageSavingsBytes) / float64(t.TotalSizeBytes) * 100
	}
	return stats
}

// ComputeStats reads one consistent snapshot of the metadata store.
func (s *FileService) ComputeStats(ctx context.Context) (*StorageStats, error) {
	totals, err := s.meta.Totals(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compute storage stats: %w", err)
	}
	return NewStorageStats(totals), nil
}
