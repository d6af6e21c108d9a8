package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/goyais/streamgate/internal/config"
	"github.com/goyais/streamgate/internal/db"
	"github.com/goyais/streamgate/internal/imagegen"
	"github.com/goyais/streamgate/internal/jobstore"
	"github.com/goyais/streamgate/internal/logging"
	"github.com/goyais/streamgate/internal/provider"
	"github.com/goyais/streamgate/internal/router"
	"github.com/goyais/streamgate/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel, os.Stderr)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("streamgate exited")
	}
}

func run(cfg *config.Config) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	base, err := openStore(rootCtx, cfg)
	if err != nil {
		return err
	}
	defer base.Close()

	// The events hub and the HTTP handlers share one notifying store.
	events := service.NewJobEvents()
	store := jobstore.WithNotify(base, events)

	var objects imagegen.ObjectStore
	minioStore, err := imagegen.NewMinioStore(rootCtx, cfg.Images)
	if err != nil {
		return err
	}
	if minioStore != nil {
		objects = minioStore
		log.Info().Str("endpoint", cfg.Images.S3Endpoint).Str("bucket", cfg.Images.S3Bucket).Msg("image uploads enabled")
	}

	generator := imagegen.FromConfig(cfg.Images, objects)
	worker := service.NewImageWorker(store, generator, cfg.Images)
	upstream := &http.Client{Transport: http.DefaultTransport}
	gateway := service.NewGateway(provider.NewSet(cfg.Upstream), upstream, store, worker, cfg.Upstream)

	sweeper := service.NewSweeper(store, worker)
	sweeper.TTL = cfg.JobTTL
	sweeper.StuckTimeout = cfg.StuckJobTimeout
	sweeper.Interval = cfg.SweepInterval

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router.New(cfg, store, gateway, worker, events),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams need unlimited write timeout
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		sweeper.Start(ctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("job_store", cfg.JobStore).
			Str("image_provider", generator.Provider()).Msg("streamgate listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
			_ = srv.Close()
		}
		return nil
	})

	err = g.Wait()
	// The store stays open until every image task has recorded its outcome.
	workerCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if werr := worker.Shutdown(workerCtx); werr != nil {
		log.Warn().Err(werr).Msg("image jobs cancelled at exit")
	}
	log.Info().Msg("stopped")
	return err
}

// openStore returns the configured job store, running migrations for SQL
// backends.
func openStore(ctx context.Context, cfg *config.Config) (jobstore.Store, error) {
	switch cfg.JobStore {
	case "", "memory":
		return jobstore.NewMemory(), nil
	case "redis":
		return jobstore.DialRedis(ctx, jobstore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, cfg.JobTTL)
	case "sqlite", "postgres":
		database, err := db.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.Migrate(database, cfg.JobStore); err != nil {
			database.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		log.Info().Str("driver", cfg.JobStore).Msg("database migrations applied")
		return jobstore.NewSQL(database, cfg.JobStore), nil
	default:
		return nil, fmt.Errorf("unsupported job store: %s", cfg.JobStore)
	}
}
