package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/caseforge/caseforge/internal/knowledge"
)

const defaultConcurrency = 4

// Indexer embeds knowledge entries and maintains them in the similarity
// index. Per-entry failures are reported in the results and never abort the
// batch that triggered indexing.
type Indexer struct {
	index       Index
	embedder    Embedder
	dimensions  int
	concurrency int
	logger      *slog.Logger

	ensureOnce sync.Once
	ensureErr  error
}

func NewIndexer(index Index, embedder Embedder, dimensions int, logger *slog.Logger) *Indexer {
	return &Indexer{
		index:       index,
		embedder:    embedder,
		dimensions:  dimensions,
		concurrency: defaultConcurrency,
		logger:      logger,
	}
}

// IndexEntries embeds and upserts the given entries. Embedding runs with
// bounded parallelism; results come back in entry order, one per entry.
// The vector ID of an indexed entry is the entry ID itself, so re-indexing
// overwrites instead of accumulating duplicates.
func (ix *Indexer) IndexEntries(ctx context.Context, entries []*knowledge.Entry) []knowledge.IndexResult {
	results := make([]knowledge.IndexResult, len(entries))
	for i, e := range entries {
		results[i] = knowledge.IndexResult{EntryID: e.ID}
	}

	if err := ix.ensureCollection(ctx); err != nil {
		for i := range results {
			results[i].Err = err
		}
		return results
	}

	points := make([]*Point, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.concurrency)
	for i, e := range entries {
		g.Go(func() error {
			doc := BuildDocument(e)
			if doc == "" {
				results[i].Err = errors.New("entry has no indexable text")
				return nil
			}

			vec, err := ix.embedder.Embed(gctx, doc)
			if err != nil {
				results[i].Err = fmt.Errorf("embedding entry: %w", err)
				return nil
			}

			points[i] = &Point{
				ID:     e.ID,
				Vector: vec,
				Payload: map[string]any{
					"entry_id":        e.ID,
					"batch_id":        e.BatchID,
					"organization_id": e.OrganizationID,
					"project_id":      e.ProjectID,
					"work_item_id":    e.WorkItemID,
					"external_key":    e.ExternalKey,
					"title":           e.Title,
					"priority":        e.Priority,
					"test_type":       e.TestType,
				},
			}
			return nil
		})
	}
	g.Wait()

	var upsert []Point
	for _, p := range points {
		if p != nil {
			upsert = append(upsert, *p)
		}
	}
	if len(upsert) == 0 {
		return results
	}

	if err := ix.index.Upsert(ctx, upsert); err != nil {
		ix.logger.Error("upserting vectors failed",
			slog.Int("points", len(upsert)), slog.Any("error", err))
		for i := range results {
			if results[i].Err == nil {
				results[i].Err = fmt.Errorf("upserting vector: %w", err)
			}
		}
		return results
	}

	model := ix.embedder.Model()
	for i := range results {
		if results[i].Err == nil {
			results[i].VectorID = entries[i].ID
			results[i].EmbeddingModel = model
		}
	}
	return results
}

// RemoveEntries deletes vectors by ID after a batch soft delete.
func (ix *Indexer) RemoveEntries(ctx context.Context, _ string, vectorIDs []string) error {
	return ix.index.Delete(ctx, vectorIDs)
}

// SearchRelevant embeds the query and returns similar entries within the
// project. Hits whose payload names another project are dropped; the filter
// is enforced by the backend, this is a second line of defense.
func (ix *Indexer) SearchRelevant(ctx context.Context, query, projectID string, limit int) ([]Hit, error) {
	if err := ix.ensureCollection(ctx); err != nil {
		return nil, err
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := ix.index.Search(ctx, vec, projectID, limit)
	if err != nil {
		return nil, err
	}

	filtered := hits[:0]
	for _, h := range hits {
		if p, ok := h.Payload["project_id"].(string); ok && p != projectID {
			ix.logger.Warn("dropping cross-project search hit",
				slog.String("hit_id", h.ID),
				slog.String("expected_project", projectID))
			continue
		}
		filtered = append(filtered, h)
	}
	return filtered, nil
}

func (ix *Indexer) ensureCollection(ctx context.Context) error {
	ix.ensureOnce.Do(func() {
		ix.ensureErr = ix.index.EnsureCollection(ctx, ix.dimensions)
	})
	return ix.ensureErr
}

// BuildDocument flattens an entry into the text that gets embedded.
func BuildDocument(e *knowledge.Entry) string {
	var b strings.Builder
	if e.Title != "" {
		b.WriteString(e.Title)
	}
	if e.Description != "" {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(e.Description)
	}
	for _, s := range e.Steps {
		if s.Action == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Step: ")
		b.WriteString(s.Action)
		if s.ExpectedResult != "" {
			b.WriteString(" -> ")
			b.WriteString(s.ExpectedResult)
		}
	}
	if e.ExpectedResult != "" {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("Expected: ")
		b.WriteString(e.ExpectedResult)
	}
	return strings.TrimSpace(b.String())
}
