package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ingestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filehub_ingests_total",
		Help: "Uploads processed, by outcome (canonical, duplicate, failed).",
	}, []string{"outcome"})

	dedupSavedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_dedup_saved_bytes_total",
		Help: "Bytes not written to blob storage because the content already existed.",
	})

	deletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filehub_deletes_total",
		Help: "Records deleted, by kind (canonical, duplicate).",
	}, []string{"kind"})

	orphanedBlobs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_orphaned_blobs_total",
		Help: "Blobs left behind by a failed delete or compensation; reclaimed by the sweeper.",
	})

	ingestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filehub_ingest_retries_total",
		Help: "Ingest attempts repeated after losing a race on a fingerprint.",
	})
)
