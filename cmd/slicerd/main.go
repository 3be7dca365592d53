package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/slicerd/internal/api"
	"github.com/you/slicerd/internal/config"
	"github.com/you/slicerd/internal/objstore"
	"github.com/you/slicerd/internal/pipeline"
	"github.com/you/slicerd/internal/queue"
	"github.com/you/slicerd/internal/slicer"
	"github.com/you/slicerd/internal/stats"
	"github.com/you/slicerd/internal/status"
	"github.com/you/slicerd/internal/storage"
	"github.com/you/slicerd/internal/workspace"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.AppEnv)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate(cfg); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer pool.Close()

	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer func() { _ = rdb.Close() }()

	store, err := objstore.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
	if err != nil {
		logger.Fatal("object storage", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		logger.Fatal("work directory", zap.String("dir", cfg.WorkDir), zap.Error(err))
	}

	docs := storage.New(pool)
	qm := queue.NewManager(rdb, cfg.HighQueue, cfg.LowQueue, cfg.Lease(), logger)
	agg := stats.New(docs, logger)
	proc := pipeline.New(
		qm,
		status.NewReporter(docs, logger),
		store,
		slicer.New(cfg.SlicerCommand),
		workspace.New(cfg.WorkDir),
		agg,
		logger,
		pipeline.Options{PollInterval: cfg.PollInterval(), MaxConcurrent: cfg.MaxConcurrent},
	)

	go qm.Sweep(ctx, cfg.RenewInterval())

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router(qm, agg, logger)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("high_queue", cfg.HighQueue),
		zap.String("low_queue", cfg.LowQueue),
		zap.Int64("max_concurrent", cfg.MaxConcurrent))

	_ = proc.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	agg.Wait()
	logger.Info("worker stopped")
}

func migrate(cfg config.Config) error {
	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, cfg.MigrationsDir)
}

func newLogger(appEnv string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if appEnv == "dev" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal(err)
	}
	return logger
}
