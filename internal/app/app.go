// Package app wires configuration into the ingestion components shared by
// the API server and the ingest CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/factcorpus/internal/config"
	"github.com/timmy/factcorpus/internal/extract"
	"github.com/timmy/factcorpus/internal/ingest"
	"github.com/timmy/factcorpus/internal/logger"
	"github.com/timmy/factcorpus/internal/queue"
	"github.com/timmy/factcorpus/internal/repository"
	"github.com/timmy/factcorpus/internal/robots"
	"github.com/timmy/factcorpus/internal/service"
	"github.com/timmy/factcorpus/internal/source"
	"github.com/timmy/factcorpus/internal/source/newsapi"
	"github.com/timmy/factcorpus/internal/source/rss"
	"github.com/timmy/factcorpus/internal/storage"
	"gorm.io/gorm"
)

// App holds the wired ingestion components.
type App struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       *gorm.DB
	Store    *repository.Store
	Registry *source.Registry
	Handler  *ingest.TaskHandler
	Runner   *ingest.Runner

	// Memory is set when tasks are delivered in-process.
	Memory *queue.MemoryQueue

	closers []func() error
}

// New builds every component from cfg.
// Parameters:
//   - ctx: context for startup calls such as collection and bucket checks.
//   - cfg: loaded configuration.
//   - log: application logger.
// Returns:
//   - *App: wired application; call Close when done.
//   - error: non-nil if any dependency cannot be initialized.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	a.Store = repository.NewStore(db)
	a.onClose(func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize Qdrant repository: %w", err)
	}
	a.onClose(qdrantRepo.Close)
	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure Qdrant collection: %w", err)
	}

	var archive service.TextArchiver
	if cfg.Storage.Enabled {
		objectStorage, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := objectStorage.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
		archive = storage.NewTextArchive(objectStorage, cfg.Storage.Prefix)
	}

	robotsPolicy, err := a.robotsPolicy(ctx)
	if err != nil {
		return err
	}

	embedder, err := service.NewEmbedder(&cfg.Embedding)
	if err != nil {
		return err
	}

	a.Registry = source.NewRegistry(
		rss.NewFetcher(&cfg.RSS),
		newsapi.NewFetcher(&cfg.NewsAPI, a.Store.Endpoints, a.Store.Articles),
	)

	job := ingest.NewEndpointJob(
		a.Store,
		a.Registry,
		robotsPolicy,
		service.NewDiscoveryService(a.Store.Articles),
		service.NewEnrichmentService(a.Store.Articles, extract.NewExtractor(&cfg.Extractor, robotsPolicy), archive),
		service.NewIndexingService(a.Store.Articles, service.NewTextChunker(&cfg.Chunking), embedder, qdrantRepo, cfg.Embedding.BatchSize),
		ingest.BlockPolicy{Threshold: cfg.Ingest.BlockThreshold, Duration: cfg.Ingest.BlockDuration},
	)
	finalizer := ingest.NewFinalizer(a.Store, ingest.NewFailureFilter(cfg.Ingest.IgnoredFailurePatterns))
	a.Handler = ingest.NewTaskHandler(a.Store, job, a.Registry, finalizer, cfg.Ingest.LeaseDuration)

	publisher, err := a.publisher()
	if err != nil {
		return err
	}
	a.Runner = ingest.NewRunner(a.Store, publisher, finalizer, cfg.Ingest.RunTimeout)
	return nil
}

func (a *App) robotsPolicy(ctx context.Context) (*robots.Policy, error) {
	cfg := a.Config
	var cache robots.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := robots.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.onClose(redisCache.Close)
		cache = redisCache
	}
	return robots.NewPolicy(cfg.Extractor.UserAgent, cfg.Extractor.Timeout, cache, cfg.Redis.RobotsTTL), nil
}

func (a *App) publisher() (ingest.Publisher, error) {
	cfg := a.Config
	switch cfg.Ingest.Queue {
	case "kafka":
		p, err := queue.NewKafkaPublisher(&cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.onClose(p.Close)
		return p, nil
	default:
		q, err := queue.NewMemoryQueue(cfg.Ingest.Workers, 0, a.Handler)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker pool: %w", err)
		}
		a.Memory = q
		a.onClose(func() error { q.Close(); return nil })
		return q, nil
	}
}

// NewConsumer joins the Kafka consumer group feeding this app's handler.
func (a *App) NewConsumer() (*queue.KafkaConsumer, error) {
	c, err := queue.NewKafkaConsumer(&a.Config.Kafka, a.Config.Ingest.Workers, a.Handler)
	if err != nil {
		return nil, err
	}
	a.onClose(c.Close)
	return c, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
