package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseforge/caseforge/internal/api"
	"github.com/caseforge/caseforge/internal/config"
	"github.com/caseforge/caseforge/internal/database"
	"github.com/caseforge/caseforge/internal/generate"
	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/observability"
	"github.com/caseforge/caseforge/internal/storage"
	"github.com/caseforge/caseforge/internal/vector"
	"github.com/caseforge/caseforge/internal/workitem"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup. Call Close to release.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, retErr error) {
	a := &App{Config: cfg, Logger: logger}

	// On error, release everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	otelShutdown, err := observability.Setup(ctx, cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up tracing: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	blobs, err := provideBlobStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.Blobs = blobs

	index, err := vector.NewQdrantIndex(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.APIKey, cfg.Qdrant.Collection, cfg.Qdrant.UseTLS)
	if err != nil {
		return nil, fmt.Errorf("connecting to qdrant: %w", err)
	}
	a.Index = index

	gateway, err := llm.NewGateway(cfg.AI, logger.With("component", "llm"))
	if err != nil {
		return nil, fmt.Errorf("creating llm gateway: %w", err)
	}
	a.Gateway = gateway

	// The gateway doubles as the embedder for indexing and retrieval.
	indexer := vector.NewIndexer(index, gateway, cfg.Qdrant.VectorSize, logger.With("component", "indexer"))

	knowledgeStore := knowledge.NewStore(pool)
	workItems := workitem.NewStore(pool)
	a.Cases = generate.NewStore(pool)

	a.Batches = knowledge.NewBatchService(
		knowledgeStore,
		blobs,
		indexer,
		workItems,
		knowledge.BatchLimits{
			MaxFileSizeBytes:  int64(cfg.Knowledge.MaxFileSizeMB) << 20,
			AllowedExtensions: cfg.Knowledge.AllowedExtensions,
		},
		logger.With("component", "batch"),
	)

	a.Generator = generate.NewGenerator(
		workItems,
		indexer,
		knowledgeStore,
		gateway,
		a.Cases,
		logger.With("component", "generate"),
	)

	server, err := api.NewServer(api.ServerConfig{
		Logger:         logger.With("component", "api"),
		Batches:        a.Batches,
		Generator:      a.Generator,
		Cases:          a.Cases,
		LLM:            gateway,
		Pool:           pool,
		CORSOrigins:    cfg.Server.CORSOrigin,
		TrustProxy:     cfg.Server.TrustProxy,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: int64(cfg.Knowledge.MaxFileSizeMB) << 20,
	})
	if err != nil {
		return nil, fmt.Errorf("creating api server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideDBPool runs migrations and opens the pgx connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	connString := cfg.PostgresConnectionString()

	if err := database.Migrate(connString); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return database.Connect(ctx, connString)
}

// provideBlobStore selects MinIO when an endpoint is configured and falls
// back to the local directory store otherwise.
func provideBlobStore(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.Endpoint != "" {
		store, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		}, logger.With("component", "storage"))
		if err != nil {
			return nil, fmt.Errorf("connecting to minio: %w", err)
		}
		return store, nil
	}

	store, err := storage.NewLocalStore(cfg.LocalDir, logger.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("creating local blob store: %w", err)
	}
	return store, nil
}
