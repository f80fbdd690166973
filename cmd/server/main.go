package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filehub/internal/server/api"
	"filehub/internal/server/config"
	"filehub/internal/server/database"
	"filehub/internal/server/digest"
	"filehub/internal/server/service"
	"filehub/internal/server/storage"
)

// metadataBackend is what the server needs from a metadata store.
type metadataBackend interface {
	service.MetadataStore
	api.HealthChecker
}

// blobBackend is what the server needs from a blob store.
type blobBackend interface {
	storage.Store
	api.HealthChecker
}

func main() {
	// Load config
	cfg := config.Load()

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"metadata_backend", cfg.MetadataBackend,
		"blob_backend", cfg.BlobBackend,
		"max_file_size", cfg.MaxFileSize,
		"digest_algorithm", cfg.DigestAlgorithm,
		"search_timezone", cfg.SearchTimezone,
	)

	ctx := context.Background()

	meta, closeMeta, err := openMetadata(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize metadata store", "error", err)
		os.Exit(1)
	}
	defer closeMeta()

	store, err := openBlobStore(cfg)
	if err != nil {
		slog.Error("failed to initialize blob storage", "error", err)
		os.Exit(1)
	}

	engine, err := digest.New(cfg.DigestAlgorithm)
	if err != nil {
		slog.Error("failed to initialize digest engine", "error", err)
		os.Exit(1)
	}

	svc := service.NewFileService(meta, store, engine, cfg)

	// Start blob sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(meta, store, cfg.SweepInterval, cfg.SweepGrace)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, meta, store)
	e := api.SetupRouter(handler, cfg)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}

// openMetadata connects the configured metadata backend. The returned
// func releases it.
func openMetadata(ctx context.Context, cfg *config.Config) (metadataBackend, func(), error) {
	if cfg.MetadataBackend == config.BackendMemory {
		slog.Warn("using in-memory metadata store; records are lost on restart")
		return database.NewMemoryStore(), func() {}, nil
	}

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	slog.Info("database migrations complete")

	return database.NewRepository(db), db.Close, nil
}

func openBlobStore(cfg *config.Config) (blobBackend, error) {
	if cfg.BlobBackend == config.BackendS3 {
		store, err := storage.NewS3Store(storage.S3Config{
			Bucket:         cfg.S3Bucket,
			Region:         cfg.S3Region,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3PathStyle,
			Prefix:         cfg.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("s3 storage initialized", "store", store.String())
		return store, nil
	}

	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		return nil, err
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)
	return store, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
