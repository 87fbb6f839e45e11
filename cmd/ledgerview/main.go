package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aevon-lab/ledgerview/internal/aggregation"
	corecfg "github.com/aevon-lab/ledgerview/internal/core/config"
	"github.com/aevon-lab/ledgerview/internal/core/storage"
	"github.com/aevon-lab/ledgerview/internal/core/storage/gcs"
	"github.com/aevon-lab/ledgerview/internal/core/storage/memory"
	"github.com/aevon-lab/ledgerview/internal/core/storage/postgres"
	"github.com/aevon-lab/ledgerview/internal/dedup"
	"github.com/aevon-lab/ledgerview/internal/freshness"
	"github.com/aevon-lab/ledgerview/internal/metrics"
	"github.com/aevon-lab/ledgerview/internal/migrations"
	"github.com/aevon-lab/ledgerview/internal/projection"
	"github.com/aevon-lab/ledgerview/internal/rebuild"
	"github.com/aevon-lab/ledgerview/internal/server"
)

func main() {
	configPath := flag.String("config", "ledgerview.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration (kind definitions included)
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"server", cfg.Server,
		"aggregation", cfg.Aggregation,
		"rebuild", cfg.Rebuild,
		"cache", cfg.Cache,
		"detector_storage", cfg.Detector.StorageType,
	)
	for _, def := range cfg.Kinds.List() {
		slog.Info("Registered aggregate kind", "kind", def.Name, "shape", def.Shape, "max_age", def.MaxAge)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations, then confirm the tables exist
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}
	if err := dbAdapter.ValidateSchema(context.Background()); err != nil {
		slog.Error("Database schema check failed", "error", err)
		os.Exit(1)
	}

	aggregates := postgres.NewAggregateAdapter(dbAdapter.DB())
	jobs := postgres.NewJobAdapter(dbAdapter.DB())
	uploads := postgres.NewUploadAdapter(dbAdapter.DB())

	// 3. Initialize Aggregation Engine and Freshness Cache
	engine := aggregation.NewEngine(dbAdapter, cfg.Kinds, aggregation.EngineOptions{
		BatchSize:      cfg.Aggregation.BatchSize,
		WorkerCount:    cfg.Aggregation.WorkerCount,
		ComputeTimeout: cfg.Aggregation.ComputeTimeout,
	})

	cache := freshness.New(freshness.Options{
		MaxEntries:        cfg.Cache.MaxEntries,
		BaseTTL:           cfg.Cache.BaseTTL,
		ExtendedTTLFactor: cfg.Cache.ExtendedTTLFactor,
		SmallDatasetRows:  cfg.Cache.SmallDatasetRows,
	})
	metrics.RegisterCache(prometheus.DefaultRegisterer, func() metrics.CacheStats {
		st := cache.Stats()
		return metrics.CacheStats{Entries: st.EntryCount, Hits: st.Hits, Misses: st.Misses, Evictions: st.Evictions}
	})

	// 4. Initialize Rebuild Coordinator
	coordinator := rebuild.NewCoordinator(jobs, aggregates, engine, cfg.Kinds, cache, rebuild.Options{
		JobRetention:     cfg.Rebuild.JobRetention,
		ProgressInterval: cfg.Rebuild.ProgressInterval,
		PollInterval:     cfg.Rebuild.PollInterval,
		// A job active for longer than one compute pass plus a margin has no runner.
		AbandonAfter: cfg.Aggregation.ComputeTimeout + time.Minute,
	})

	// 5. Initialize Projection (query API)
	projectionSvc := projection.NewService(aggregates, coordinator, cache, cfg.Kinds, cfg.Rebuild.ReadWait)

	// 6. Initialize Duplicate/Orphan Detector
	objects, closeObjects, err := openObjectStore(cfg.Detector)
	if err != nil {
		slog.Error("Failed to initialize object store", "error", err)
		os.Exit(1)
	}
	defer closeObjects()

	detector := dedup.NewDetector(uploads, aggregates, objects, cfg.Kinds, dedup.Options{
		ExistsRate:        cfg.Detector.ExistsRate,
		ExistsBurst:       cfg.Detector.ExistsBurst,
		VerifyConcurrency: cfg.Detector.VerifyConcurrency,
		PurgeGrace:        cfg.Detector.PurgeGrace,
	})

	// 7. Initialize Server
	srv := server.New(server.Options{
		Addr:         fmtAddr(cfg.Server.Host, cfg.Server.Port),
		Mode:         cfg.Server.Mode,
		MaxBodyBytes: int64(cfg.Server.MaxBodySizeMB) << 20,
		DB:           dbAdapter.DB(),
		Cache:        cache,
	})
	projectionSvc.RegisterRoutes(srv.Engine)
	detector.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler → triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// In-flight rebuilds get the compute timeout to finish and persist.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.Aggregation.ComputeTimeout+5*time.Second)
	defer drainCancel()
	if err := coordinator.Drain(drainCtx); err != nil {
		slog.Warn("Rebuilds still running at shutdown", "error", err)
	}
	cache.Shutdown()

	slog.Info("Shutdown complete")
}

// openObjectStore resolves the detector's blob store. "none" yields a nil
// store, which leaves orphan objects inconclusive.
func openObjectStore(cfg corecfg.DetectorConfig) (storage.ObjectStore, func(), error) {
	switch cfg.StorageType {
	case "gcs":
		store, err := gcs.NewObjectStore(context.Background(), cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Warn("Failed to close object store", "error", err)
			}
		}, nil
	case "memory":
		slog.Warn("Detector using in-memory object store; purge decisions are not durable")
		return memory.NewObjectStore(), func() {}, nil
	default:
		return nil, func() {}, nil
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
