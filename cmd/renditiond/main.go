package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	batchapi "github.com/renditionlab/renditions/internal/api/handlers/batch"
	"github.com/renditionlab/renditions/internal/api/router"
	"github.com/renditionlab/renditions/internal/api/server"
	"github.com/renditionlab/renditions/internal/config"
	"github.com/renditionlab/renditions/internal/engine"
	"github.com/renditionlab/renditions/internal/infra/kafka/consumer"
	"github.com/renditionlab/renditions/internal/infra/kafka/producer"
	batchmsg "github.com/renditionlab/renditions/internal/kafka/handlers/batch"
	"github.com/renditionlab/renditions/internal/metrics"
	jobrepo "github.com/renditionlab/renditions/internal/repository/job"
	batchsvc "github.com/renditionlab/renditions/internal/service/batch"
	"github.com/renditionlab/renditions/internal/storage/file"
	"github.com/renditionlab/renditions/internal/storage/object"
)

// newStorage selects the storage backend from configuration.
func newStorage(ctx context.Context, cfg config.Storage) (batchsvc.Storage, error) {
	switch cfg.Backend {
	case "minio":
		return object.New(ctx, cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.BucketName, cfg.UseSSL)
	case "", "local":
		return file.New(cfg.Root), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config/config.yml")

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Retry strategy for Kafka and other external calls.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Initialize the storage backend (local directory or MinIO).
	store, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}
	zlog.Logger.Info().Str("backend", cfg.Storage.Backend).Msg("storage ready")

	// Initialize repository, producer, metrics, and the batch service.
	repo := jobrepo.NewRepository(db)
	p := producer.New(&cfg.Kafka, strategy)
	m := metrics.New()
	svc := batchsvc.NewService(store, repo, p, engine.New(), m, batchsvc.Options{
		Workers:        cfg.Processing.Workers,
		MaxSourceBytes: cfg.Processing.MaxSourceBytes,
	})

	// Kafka message handler for requested batches.
	requestedHandler := batchmsg.NewRequestedHandler(svc)

	// HTTP handler for batch routes.
	apiHandler := batchapi.NewHandler(svc, cfg.Groups)

	// Kafka consumer for executing requested batch jobs.
	c := consumer.New(&cfg.Kafka, strategy, requestedHandler)

	// Start Kafka consumer in a separate goroutine.
	var wg sync.WaitGroup
	wg.Add(1)
	go c.Consume(ctx, &wg)

	// Start HTTP server in a separate goroutine.
	r := router.Setup(apiHandler, m)
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	// Close Kafka producer and consumer clients.
	if err = p.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}
	if err = c.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
	}
}
