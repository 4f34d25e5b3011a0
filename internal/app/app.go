package app

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tejasbhor/Civiclens/internal/config"
	"github.com/tejasbhor/Civiclens/internal/logger"
	"github.com/tejasbhor/Civiclens/internal/repository"
	"github.com/tejasbhor/Civiclens/internal/service"
	"github.com/tejasbhor/Civiclens/internal/storage"
)

// App holds the wired dependencies shared by the API server and the clustering CLI.
type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      *config.Config
	Repos    Repos
	Services Services

	closers []func() error
}

// Repos groups the persistence layer.
type Repos struct {
	Reports    *repository.ReportRepository
	Embeddings *repository.EmbeddingRepository
	Clusters   *repository.ClusterRepository
	Feedback   *repository.FeedbackRepository
	Index      *repository.QdrantReportIndex // nil unless candidates.backend is qdrant
}

// Services groups the domain services.
type Services struct {
	Encoder  service.Encoder
	Cache    *service.EmbeddingCache
	Checker  *service.DuplicateChecker
	Engine   *service.ClusterEngine
	Ledger   *service.FeedbackLedger
	Review   *service.ClusterReview
	Archiver *service.RunArchiver // nil when archiving is disabled
}

// New connects every configured backend and wires the services.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Log: log, Cfg: cfg}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.DB = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := a.wireRepos(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireServices(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wireRepos(ctx context.Context) error {
	a.Repos = Repos{
		Reports:    repository.NewReportRepository(a.DB),
		Embeddings: repository.NewEmbeddingRepository(a.DB),
		Clusters:   repository.NewClusterRepository(a.DB),
		Feedback:   repository.NewFeedbackRepository(a.DB),
	}

	switch a.Cfg.Candidates.Backend {
	case "", "gorm":
	case "qdrant":
		index, err := repository.NewQdrantReportIndex(&repository.QdrantConnectionConfig{
			Host:            a.Cfg.Qdrant.Host,
			Port:            a.Cfg.Qdrant.Port,
			Collection:      a.Cfg.Qdrant.Collection,
			APIKey:          a.Cfg.Qdrant.APIKey,
			UseTLS:          a.Cfg.Qdrant.UseTLS,
			VectorDimension: a.Cfg.Encoder.Dimensions,
		})
		if err != nil {
			return fmt.Errorf("init qdrant: %w", err)
		}
		a.closers = append(a.closers, index.Close)
		if err := index.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("ensure qdrant collection: %w", err)
		}
		a.Repos.Index = index
	default:
		return fmt.Errorf("unknown candidates backend %q", a.Cfg.Candidates.Backend)
	}
	return nil
}

func (a *App) wireServices(ctx context.Context) error {
	encoder, err := service.NewEncoder(&a.Cfg.Encoder)
	if err != nil {
		return fmt.Errorf("init encoder: %w", err)
	}
	a.closers = append(a.closers, encoder.Close)

	cache := service.NewEmbeddingCache(a.Repos.Embeddings, encoder, a.Log)

	var source service.CandidateSource = a.Repos.Reports
	var indexer service.ReportIndexer
	if a.Repos.Index != nil {
		source = service.NewIndexedCandidateSource(a.Repos.Index, a.Repos.Reports)
		indexer = a.Repos.Index
		cache.SetIndexer(indexer)
	}
	retriever := service.NewCandidateRetriever(source, a.Cfg.Detection, a.Log)

	var lock service.RunLock
	if a.Cfg.Redis.Addr != "" {
		redisLock, err := service.NewRedisRunLock(&a.Cfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis run lock: %w", err)
		}
		a.closers = append(a.closers, redisLock.Close)
		lock = redisLock
	}

	var archiver *service.RunArchiver
	if a.Cfg.Storage.Enabled() {
		store, err := storage.NewS3Storage(&a.Cfg.Storage)
		if err != nil {
			return fmt.Errorf("init run archive storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("ensure run archive bucket: %w", err)
		}
		archiver = service.NewRunArchiver(store, a.Cfg.Storage.Prefix)
	}

	engineCfg := service.ClusterEngineConfig{
		Reports:    a.Repos.Reports,
		Clusters:   a.Repos.Clusters,
		Cache:      cache,
		Detection:  a.Cfg.Detection,
		Clustering: a.Cfg.Clustering,
		Lock:       lock,
		Archiver:   archiver,
		Indexer:    indexer,
		Logger:     a.Log,
	}

	ledger := service.NewFeedbackLedger(a.Repos.Clusters, a.Repos.Feedback, nil, a.Log)
	a.Services = Services{
		Encoder:  encoder,
		Cache:    cache,
		Checker:  service.NewDuplicateChecker(retriever, cache, a.Cfg.Detection, a.Log),
		Engine:   service.NewClusterEngine(engineCfg),
		Ledger:   ledger,
		Review:   service.NewClusterReview(a.Repos.Clusters, ledger),
		Archiver: archiver,
	}

	a.Log.WithFields(logger.Fields{
		"encoder_model":      encoder.ModelName(),
		"encoder_version":    encoder.ModelVersion(),
		"candidates_backend": a.Cfg.Candidates.Backend,
		"redis_lock":         a.Cfg.Redis.Addr != "",
		"run_archive":        archiver != nil,
	}).Info("Services initialized")
	return nil
}

// Ping checks the database connection.
func (a *App) Ping(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases every backend in reverse order of acquisition.
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
