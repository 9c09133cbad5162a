package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kailas-cloud/dicomtags/internal/config"
	"github.com/kailas-cloud/dicomtags/internal/db"
	"github.com/kailas-cloud/dicomtags/internal/db/memory"
	dbMinio "github.com/kailas-cloud/dicomtags/internal/db/minio"
	"github.com/kailas-cloud/dicomtags/internal/db/postgres"
	dbRedis "github.com/kailas-cloud/dicomtags/internal/db/redis"
	"github.com/kailas-cloud/dicomtags/internal/db/versioned"
	"github.com/kailas-cloud/dicomtags/internal/domain/dicom"
	"github.com/kailas-cloud/dicomtags/internal/domain/validation"
	logpkg "github.com/kailas-cloud/dicomtags/internal/logger"
	"github.com/kailas-cloud/dicomtags/internal/metrics"
	idxrepo "github.com/kailas-cloud/dicomtags/internal/repository/index"
	instrepo "github.com/kailas-cloud/dicomtags/internal/repository/instance"
	metarepo "github.com/kailas-cloud/dicomtags/internal/repository/metadata"
	oprepo "github.com/kailas-cloud/dicomtags/internal/repository/operation"
	tagrepo "github.com/kailas-cloud/dicomtags/internal/repository/querytag"
	chiTransport "github.com/kailas-cloud/dicomtags/internal/transport/chi"
	healthuc "github.com/kailas-cloud/dicomtags/internal/usecase/health"
	"github.com/kailas-cloud/dicomtags/internal/usecase/indexer"
	ingestuc "github.com/kailas-cloud/dicomtags/internal/usecase/ingest"
	tagsuc "github.com/kailas-cloud/dicomtags/internal/usecase/querytag"
	reindexuc "github.com/kailas-cloud/dicomtags/internal/usecase/reindex"
	"github.com/kailas-cloud/dicomtags/internal/version"
)

// store is the database handle main needs beyond db.Store.
type store interface {
	db.Store
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

func main() {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting dicomtags API server",
		zap.String("version", version.String()),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("metadata_driver", cfg.Metadata.Driver),
	)

	ctx := context.Background()

	dbStore, err := openStore(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer dbStore.Close()

	if err := dbStore.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	schema, err := dbStore.SchemaVersion(ctx)
	if err != nil {
		logger.Fatal("Failed to read schema version", zap.Error(err))
	}
	logger.Info("Connected to database", zap.Int("schema_version", schema))

	leases, err := openLeases(ctx, cfg.Redis, time.Duration(cfg.Database.ReadinessTimeout)*time.Second)
	if err != nil {
		logger.Fatal("Failed to create lease store", zap.Error(err))
	}
	defer leases.Close()

	metaStore, err := openMetadata(ctx, cfg.Metadata)
	if err != nil {
		logger.Fatal("Failed to create metadata store", zap.Error(err))
	}

	metrics.RegisterIndexingMetrics()
	metrics.RegisterHTTPMetrics()

	// Repositories
	indexRepo := idxrepo.New(dbStore)
	instanceRepo := instrepo.New(dbStore)
	metadataRepo := metarepo.New(metaStore)

	// Use cases
	threshold := 0
	if cfg.Registry.DisableQueryAfterErrors != nil {
		threshold = *cfg.Registry.DisableQueryAfterErrors
	}
	tagSvc := tagsuc.New(tagrepo.New(dbStore), indexRepo, dicom.Standard, tagsuc.Config{
		DeleteBatchSize:         cfg.Registry.DeleteBatchSize,
		SnapshotMaxAge:          time.Duration(cfg.Registry.SnapshotMaxAgeSec) * time.Second,
		DisableQueryAfterErrors: threshold,
	})
	indexSvc := indexer.New(indexRepo, validation.New(dicom.Standard, cfg.Registry.LenientValidation), tagSvc).
		WithCommitter(instanceRepo)
	reindexSvc := reindexuc.New(reindexuc.Deps{
		Registry:   tagSvc,
		Operations: oprepo.New(dbStore),
		Instances:  instanceRepo,
		Metadata:   metadataRepo,
		Indexer:    indexSvc,
		Leases:     leases,
	}, reindexuc.Config{
		BatchSize:               cfg.Reindex.BatchSize,
		MaxParallelCount:        cfg.Reindex.MaxParallelCount,
		MaxConcurrentOperations: cfg.Reindex.MaxConcurrentOperations,
		MaxRecordRetries:        cfg.Reindex.MaxRecordRetries,
		PollInterval:            time.Duration(cfg.Reindex.PollIntervalMs) * time.Millisecond,
		LeaseTTL:                time.Duration(cfg.Redis.LeaseTTLSec) * time.Second,
		MaxAttempts:             cfg.Reindex.MaxAttempts,
		MaxRecordsPerSec:        cfg.Reindex.MaxRecordsPerSec,
	}, logger)
	ingestSvc := ingestuc.New(instanceRepo, metadataRepo, indexSvc)
	healthSvc := healthuc.New(dbStore, leases, metaStore)

	server := chiTransport.NewServer(tagSvc, reindexSvc, ingestSvc, healthSvc, chiTransport.Options{
		MaxAllowedCount:  cfg.Registry.MaxAllowedCount,
		DefaultPageSize:  cfg.HTTP.DefaultPageSize,
		MaxPageSize:      cfg.HTTP.MaxPageSize,
		MaxInstanceBytes: cfg.HTTP.MaxInstanceBytes,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(logpkg.ContextWithLogger(ctx, logger))
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		logger.Info("Starting reindex worker")
		if err := reindexSvc.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Reindex worker stopped", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	stopWorker()
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		logger.Warn("Reindex worker did not stop before the shutdown deadline")
	}

	logger.Info("Server stopped gracefully")
}

// openStore builds the database store. postgres is served through the versioned
// facade so the binary keeps working across schema upgrades.
func openStore(cfg config.DatabaseConfig, logger *zap.Logger) (store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		conn, err := postgres.Open(postgres.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		facade, err := versioned.New(conn, time.Duration(cfg.SchemaRecheckSec)*time.Second, logger,
			versioned.Implementation{MinSchemaVersion: postgres.SchemaV1, Store: postgres.NewStoreV1(conn)},
			versioned.Implementation{MinSchemaVersion: postgres.SchemaV2, Store: postgres.NewStoreV2(conn)},
		)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("versioned store: %w", err)
		}
		return facade, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openLeases uses Redis when addresses are configured, in-process leases otherwise.
func openLeases(ctx context.Context, cfg config.RedisConfig, readiness time.Duration) (db.LeaseStore, error) {
	addrs := make([]string, 0, len(cfg.Addrs))
	for _, a := range cfg.Addrs {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return memory.NewLeaseStore(), nil
	}
	s, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:     addrs,
		Username:  cfg.Username,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	if err := s.WaitForReady(ctx, readiness); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func openMetadata(ctx context.Context, cfg config.MetadataConfig) (db.MetadataStore, error) {
	if cfg.Driver == "memory" {
		return memory.NewMetadataStore(), nil
	}
	s, err := dbMinio.NewStore(dbMinio.Config{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		Prefix:    cfg.Prefix,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: %w", err)
	}
	if err := s.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("minio bucket: %w", err)
	}
	return s, nil
}
