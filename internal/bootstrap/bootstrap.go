// Package bootstrap opens the backing stores shared by the API and worker
// binaries, retrying each connection under the startup policy.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/imgclassify/internal/config"
	"github.com/example/imgclassify/internal/connect"
	"github.com/example/imgclassify/internal/contentstore"
	"github.com/example/imgclassify/internal/grpcclient"
	"github.com/example/imgclassify/internal/inference"
	"github.com/example/imgclassify/internal/metrics"
	"github.com/example/imgclassify/internal/pipeline"
	"github.com/example/imgclassify/internal/queue"
	"github.com/example/imgclassify/internal/repository"
	"github.com/example/imgclassify/internal/resultcache"
	"github.com/example/imgclassify/internal/worker"
)

var (
	// ErrDatabaseUnavailable is returned when the prediction log cannot be reached.
	ErrDatabaseUnavailable = errors.New("database unavailable")
	// ErrProcessLocalContent is returned when a standalone worker is started
	// against a content backend it cannot share with the api.
	ErrProcessLocalContent = errors.New("content backend is private to one process")
)

// Stores holds the shared handles. Close releases them.
type Stores struct {
	Redis   *redis.Client
	Queue   queue.Queue
	Cache   *resultcache.Cache
	Content *contentstore.ContentStore
	// Repository is nil when DATABASE_DSN is empty.
	Repository *repository.PredictionRepository

	closers []func() error
}

// Policy builds the startup connection policy from cfg.
func Policy(cfg *config.Config, logger *zap.Logger) connect.Policy {
	return connect.Policy{MaxAttempts: cfg.ConnectAttempts, Delay: cfg.ConnectDelay, Logger: logger}
}

// OpenStores connects to Redis, the content backend and, when configured,
// Postgres. It fails once any dependency exhausts its retry budget.
func OpenStores(ctx context.Context, cfg *config.Config, policy connect.Policy, logger *zap.Logger) (*Stores, error) {
	s := &Stores{}

	s.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	s.closers = append(s.closers, s.Redis.Close)
	kv := resultcache.NewRedisKV(s.Redis)
	if err := policy.Do(ctx, "redis", pipeline.ErrCacheUnavailable, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return kv.Ping(pingCtx)
	}); err != nil {
		s.Close()
		return nil, err
	}
	if EmbedsWorkers(cfg) {
		// Jobs must stay with the process that holds their content.
		s.Queue = queue.NewMemoryQueue()
	} else {
		s.Queue = queue.NewRedisQueue(s.Redis, cfg.QueueName, logger)
	}
	s.Cache = resultcache.New(kv, resultcache.Options{
		FingerprintTTL: cfg.FingerprintResultTTL,
		JobTTL:         cfg.JobResultTTL,
		LRUSize:        cfg.FingerprintLRUSize,
		LRUTTL:         10 * time.Minute,
	}, logger)

	backend, err := openContentBackend(ctx, cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Content = contentstore.New(backend, logger)
	if err := policy.Do(ctx, "content_store", pipeline.ErrStoreUnavailable, s.Content.Ping); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.DatabaseDSN != "" {
		repo, closeDB, err := openRepository(ctx, cfg.DatabaseDSN, policy, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.Repository = repo
		s.closers = append(s.closers, closeDB)
	} else {
		logger.Info("DATABASE_DSN not set, prediction log disabled")
	}
	return s, nil
}

// Close releases every handle opened by OpenStores.
func (s *Stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func openContentBackend(ctx context.Context, cfg *config.Config) (contentstore.Backend, error) {
	switch cfg.ContentBackend {
	case config.ContentBackendS3:
		return contentstore.NewS3Backend(ctx, contentstore.S3Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
	case config.ContentBackendMemory:
		return contentstore.NewMemoryBackend(), nil
	default:
		return contentstore.NewFileBackend(cfg.UploadDir)
	}
}

func openRepository(ctx context.Context, dsn string, policy connect.Policy, logger *zap.Logger) (*repository.PredictionRepository, func() error, error) {
	var db *gorm.DB
	err := policy.Do(ctx, "postgres", ErrDatabaseUnavailable, func(ctx context.Context) error {
		opened, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			TranslateError: true,
		})
		if err != nil {
			return err
		}
		sqlDB, err := opened.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			sqlDB.Close()
			return err
		}
		db = opened
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	repo := repository.NewPredictionRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("auto migrate: %w", err)
	}
	return repo, sqlDB.Close, nil
}

// EmbedsWorkers reports whether the api has to run the worker loops itself
// because content is only visible inside one process.
func EmbedsWorkers(cfg *config.Config) bool {
	return cfg.ContentBackend == config.ContentBackendMemory
}

// CheckStandaloneWorker rejects settings a separate worker process cannot
// serve.
func CheckStandaloneWorker(cfg *config.Config) error {
	if EmbedsWorkers(cfg) {
		return fmt.Errorf("CONTENT_BACKEND=%s: %w; use file or s3, or let the api run the workers", cfg.ContentBackend, ErrProcessLocalContent)
	}
	return nil
}

// NewWorker wires a worker over stores. m may be nil.
func NewWorker(cfg *config.Config, stores *Stores, model inference.Client, m *metrics.Worker, logger *zap.Logger) *worker.Worker {
	opts := []worker.Option{
		worker.WithMetrics(m),
		worker.WithInferenceTimeout(cfg.InferenceTimeout),
		worker.WithRetryDelay(cfg.ConnectDelay),
	}
	if stores.Repository != nil {
		opts = append(opts, worker.WithRecorder(stores.Repository))
	}
	return worker.New(stores.Queue, stores.Content, stores.Cache, model, logger, opts...)
}

// StartEmbeddedWorkers runs cfg.Workers loops in the background. The returned
// stop cancels them and waits for in-flight jobs to finish.
func StartEmbeddedWorkers(ctx context.Context, cfg *config.Config, stores *Stores, model inference.Client, logger *zap.Logger) (stop func() error) {
	ctx, cancel := context.WithCancel(ctx)
	w := NewWorker(cfg, stores, model, nil, logger)
	done := make(chan error, 1)
	go func() {
		done <- w.RunPool(ctx, cfg.Workers)
	}()
	logger.Warn("content backend is process local, running workers inside the api",
		zap.String("content_backend", cfg.ContentBackend),
		zap.Int("loops", cfg.Workers),
	)
	return func() error {
		cancel()
		return <-done
	}
}

// OpenModel returns the inference collaborator selected by cfg and a closer.
func OpenModel(ctx context.Context, cfg *config.Config, policy connect.Policy, logger *zap.Logger) (inference.Client, func() error, error) {
	if cfg.ModelKind == config.ModelStatic {
		logger.Warn("using static model, every image gets the same label", zap.String("label", cfg.StaticLabel))
		return inference.Static(cfg.StaticLabel, 1), func() error { return nil }, nil
	}

	var (
		client inference.Client
		conn   *grpc.ClientConn
	)
	err := policy.Do(ctx, "model", pipeline.ErrInferenceFailed, func(ctx context.Context) error {
		var err error
		client, conn, err = grpcclient.DialClassifier(ctx, cfg.ModelAddr, logger)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return client, conn.Close, nil
}
