package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"filehub/internal/server/database"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_cache_hits_total",
		Help: "Record cache hits.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_cache_misses_total",
		Help: "Record cache misses.",
	})
)

// RecordCache is a per-instance expiring LRU of file records keyed by ID.
// Only immutable fields are read from cached entries; reference counts
// always come from the metadata store.
type RecordCache struct {
	cache *expirable.LRU[string, *database.FileRecord]
}

// NewRecordCache creates a cache holding at most size records for ttl.
// The LRU treats a size of 0 as unbounded, so sizes below 1 become 1.
func NewRecordCache(size int, ttl time.Duration) *RecordCache {
	if size < 1 {
		size = 1
	}
	return &RecordCache{cache: expirable.NewLRU[string, *database.FileRecord](size, nil, ttl)}
}

func (c *RecordCache) Get(id string) (*database.FileRecord, bool) {
	rec, ok := c.cache.Get(id)
	if ok {
		cacheHitsTotal.Inc()
		return rec.Clone(), true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

func (c *RecordCache) Set(rec *database.FileRecord) {
	c.cache.Add(rec.ID, rec.Clone())
}

// Delete invalidates id.
func (c *RecordCache) Delete(id string) {
	c.cache.Remove(id)
}

func (c *RecordCache) Len() int {
	return c.cache.Len()
}
