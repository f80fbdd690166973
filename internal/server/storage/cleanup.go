package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweptBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_swept_blobs_total",
		Help: "Unreferenced blobs removed by the sweeper.",
	})
	sweptBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_swept_bytes_total",
		Help: "Bytes reclaimed by the sweeper.",
	})
	sweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_sweep_failures_total",
		Help: "Sweep cycles or blob deletions that failed.",
	})
)

// MinSweepGrace is the shortest grace period a Sweeper accepts. It must
// outlast one blob write plus the commit of its record.
const MinSweepGrace = 10 * time.Minute

// ReferenceSource lists the blob paths still owned by metadata records.
type ReferenceSource interface {
	ReferencedPaths(ctx context.Context) (map[string]struct{}, error)
}

// SweepResult summarizes one sweep cycle.
type SweepResult struct {
	Scanned int
	Removed int
	Failed  int
	Bytes   int64
}

// Sweeper periodically removes blobs that no canonical record references.
// Blobs younger than the grace period are left alone so uploads whose
// record is not yet committed survive.
type Sweeper struct {
	refs     ReferenceSource
	store    Store
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	done     chan struct{}
}

// NewSweeper creates a new sweeper. A grace period below MinSweepGrace is
// raised to it.
func NewSweeper(refs ReferenceSource, store Store, interval, grace time.Duration) *Sweeper {
	if grace < MinSweepGrace {
		slog.Warn("sweep grace period too short, using minimum",
			"requested", grace,
			"minimum", MinSweepGrace,
		)
		grace = MinSweepGrace
	}
	return &Sweeper{
		refs:     refs,
		store:    store,
		interval: interval,
		grace:    grace,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Start begins the sweep loop in a background goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	slog.Info("blob sweeper started", "interval", s.interval, "grace", s.grace)

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		// Run once immediately on start
		s.Sweep(ctx)

		for {
			select {
			case <-ticker.C:
				s.Sweep(ctx)
			case <-ctx.Done():
				slog.Info("blob sweeper stopping")
				close(s.done)
				return
			}
		}
	}()
}

// Wait blocks until the sweeper has fully stopped.
func (s *Sweeper) Wait() {
	<-s.done
}

// Sweep runs one cycle. The blob listing is taken before the reference
// set so a blob written after the listing is never considered.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	blobs, err := s.store.List(ctx)
	if err != nil {
		slog.Error("failed to list blobs", "error", err)
		sweepFailures.Inc()
		return res
	}

	refs, err := s.refs.ReferencedPaths(ctx)
	if err != nil {
		slog.Error("failed to load referenced paths", "error", err)
		sweepFailures.Inc()
		return res
	}

	cutoff := s.now().Add(-s.grace)
	for _, blob := range blobs {
		res.Scanned++
		if _, ok := refs[blob.Path]; ok {
			continue
		}
		if blob.ModTime.After(cutoff) {
			continue
		}

		if err := s.store.Delete(ctx, blob.Path); err != nil {
			slog.Error("failed to delete orphaned blob",
				"path", blob.Path,
				"error", err,
			)
			sweepFailures.Inc()
			res.Failed++
			continue
		}

		res.Removed++
		res.Bytes += blob.Size
		sweptBlobs.Inc()
		sweptBytes.Add(float64(blob.Size))
		slog.Info("removed orphaned blob",
			"path", blob.Path,
			"size", blob.Size,
			"mod_time", blob.ModTime,
		)
	}

	slog.Info("sweep cycle complete",
		"scanned", res.Scanned,
		"removed", res.Removed,
		"failed", res.Failed,
		"bytes", res.Bytes,
	)
	return res
}
