// Package vector maintains the similarity index over knowledge entries and
// serves semantic retrieval for test-case generation.
//
// The index is a derived projection of the relational store: it can always
// be rebuilt from knowledge_entries, so indexing failures degrade retrieval
// quality but never lose data.
package vector

import "context"

// Point is one indexed entry: an embedding plus the payload used for
// filtering and for tracing hits back to their entries.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is one search result, most similar first.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Index is the similarity index backend. Implementations must scope every
// search by project; cross-tenant leakage through the index is not
// recoverable downstream.
type Index interface {
	// EnsureCollection creates the backing collection if it does not exist.
	EnsureCollection(ctx context.Context, dimensions int) error

	// Upsert writes points, replacing any with the same ID.
	Upsert(ctx context.Context, points []Point) error

	// Search returns up to limit points similar to the vector, restricted to
	// the given project.
	Search(ctx context.Context, vec []float32, projectID string, limit int) ([]Hit, error)

	// Delete removes points by ID. Unknown IDs are ignored.
	Delete(ctx context.Context, ids []string) error
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model names the embedding model, recorded on entries so stale vectors
	// can be found after a model change.
	Model() string
}
