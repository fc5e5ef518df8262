// Package app assembles the application: configuration, database pool, blob
// store, similarity index, LLM gateway, domain services and the HTTP server.
//
// Setup wires everything in dependency order and returns an App whose Close
// releases resources in reverse order. Components receive their dependencies
// through constructor interfaces, so the container holds concrete types while
// consumers stay decoupled.
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caseforge/caseforge/internal/api"
	"github.com/caseforge/caseforge/internal/config"
	"github.com/caseforge/caseforge/internal/generate"
	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/storage"
	"github.com/caseforge/caseforge/internal/vector"
)

// App is the application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Pool      *pgxpool.Pool
	Blobs     storage.BlobStore
	Index     *vector.QdrantIndex
	Gateway   *llm.Gateway
	Batches   *knowledge.BatchService
	Generator *generate.Generator
	Cases     *generate.Store
	Server    *api.Server

	otelShutdown func(context.Context) error
}

// Close releases all resources in reverse initialization order. Safe to call
// on a partially initialized App.
func (a *App) Close() error {
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil {
			a.logger().Warn("shutting down tracer provider", "error", err)
		}
		cancel()
	}

	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			a.logger().Warn("closing qdrant connection", "error", err)
		}
	}

	if a.Pool != nil {
		a.Pool.Close()
	}

	return nil
}

func (a *App) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}
