package vector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/log"
)

type fakeIndex struct {
	ensureCalls atomic.Int32
	ensureErr   error
	upsertErr   error

	upserted []Point
	deleted  []string
	hits     []Hit
	searched struct {
		projectID string
		limit     int
	}
}

func (f *fakeIndex) EnsureCollection(_ context.Context, _ int) error {
	f.ensureCalls.Add(1)
	return f.ensureErr
}

func (f *fakeIndex) Upsert(_ context.Context, points []Point) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, points...)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, projectID string, limit int) ([]Hit, error) {
	f.searched.projectID = projectID
	f.searched.limit = limit
	return f.hits, nil
}

func (f *fakeIndex) Delete(_ context.Context, ids []string) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeEmbedder struct {
	err    error
	failOn string
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.failOn != "" && text == f.failOn {
		return nil, errors.New("provider unavailable")
	}
	return []float32{float32(len(text)), 0.5}, nil
}

func (f *fakeEmbedder) Model() string { return "test-embedding-model" }

func entry(id, title string) *knowledge.Entry {
	return &knowledge.Entry{
		ID:          id,
		BatchID:     "batch-1",
		ProjectID:   "proj-1",
		ExternalKey: "PROJ-1",
		Title:       title,
	}
}

func TestIndexEntries(t *testing.T) {
	index := &fakeIndex{}
	ix := NewIndexer(index, &fakeEmbedder{}, 2, log.NewNop())

	entries := []*knowledge.Entry{entry("e1", "first"), entry("e2", "second")}
	results := ix.IndexEntries(context.Background(), entries)

	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Errorf("results[%d].Err = %v, want nil", i, res.Err)
		}
		if res.VectorID != entries[i].ID {
			t.Errorf("results[%d].VectorID = %q, want entry ID %q", i, res.VectorID, entries[i].ID)
		}
		if res.EmbeddingModel != "test-embedding-model" {
			t.Errorf("results[%d].EmbeddingModel = %q", i, res.EmbeddingModel)
		}
	}
	if len(index.upserted) != 2 {
		t.Fatalf("upserted points = %d, want 2", len(index.upserted))
	}
	if got := index.upserted[0].Payload["project_id"]; got != "proj-1" {
		t.Errorf("payload project_id = %v, want proj-1", got)
	}
}

func TestIndexEntriesAbsorbsEmbeddingFailure(t *testing.T) {
	index := &fakeIndex{}
	ix := NewIndexer(index, &fakeEmbedder{failOn: "broken"}, 2, log.NewNop())

	results := ix.IndexEntries(context.Background(),
		[]*knowledge.Entry{entry("e1", "fine"), entry("e2", "broken")})

	if results[0].Err != nil {
		t.Errorf("results[0].Err = %v, want nil", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("results[1].Err = nil, want embedding failure")
	}
	if len(index.upserted) != 1 {
		t.Errorf("upserted points = %d, want 1", len(index.upserted))
	}
}

func TestIndexEntriesUpsertFailureMarksAll(t *testing.T) {
	index := &fakeIndex{upsertErr: errors.New("qdrant down")}
	ix := NewIndexer(index, &fakeEmbedder{}, 2, log.NewNop())

	results := ix.IndexEntries(context.Background(),
		[]*knowledge.Entry{entry("e1", "first"), entry("e2", "second")})

	for i, res := range results {
		if res.Err == nil {
			t.Errorf("results[%d].Err = nil, want upsert failure", i)
		}
	}
}

func TestIndexEntriesSkipsEmptyDocument(t *testing.T) {
	index := &fakeIndex{}
	ix := NewIndexer(index, &fakeEmbedder{}, 2, log.NewNop())

	results := ix.IndexEntries(context.Background(), []*knowledge.Entry{entry("e1", "")})

	if results[0].Err == nil {
		t.Error("empty entry indexed, want error result")
	}
	if len(index.upserted) != 0 {
		t.Errorf("upserted points = %d, want 0", len(index.upserted))
	}
}

func TestEnsureCollectionRunsOnce(t *testing.T) {
	index := &fakeIndex{}
	ix := NewIndexer(index, &fakeEmbedder{}, 2, log.NewNop())

	ix.IndexEntries(context.Background(), []*knowledge.Entry{entry("e1", "a")})
	ix.IndexEntries(context.Background(), []*knowledge.Entry{entry("e2", "b")})

	if got := index.ensureCalls.Load(); got != 1 {
		t.Errorf("EnsureCollection called %d times, want 1", got)
	}
}

func TestSearchRelevant(t *testing.T) {
	index := &fakeIndex{hits: []Hit{
		{ID: "e1", Score: 0.9, Payload: map[string]any{"project_id": "proj-1"}},
		{ID: "e9", Score: 0.8, Payload: map[string]any{"project_id": "other"}},
		{ID: "e2", Score: 0.7, Payload: map[string]any{"project_id": "proj-1"}},
	}}
	ix := NewIndexer(index, &fakeEmbedder{}, 2, log.NewNop())

	hits, err := ix.SearchRelevant(context.Background(), "login test", "proj-1", 3)
	if err != nil {
		t.Fatalf("SearchRelevant() error = %v", err)
	}

	if index.searched.projectID != "proj-1" || index.searched.limit != 3 {
		t.Errorf("search scoped as %+v", index.searched)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2 (cross-project hit dropped)", len(hits))
	}
	if hits[0].ID != "e1" || hits[1].ID != "e2" {
		t.Errorf("hit IDs = %s, %s", hits[0].ID, hits[1].ID)
	}
}

func TestBuildDocument(t *testing.T) {
	e := &knowledge.Entry{
		Title:       "Login works",
		Description: "Happy path",
		Steps: []knowledge.Step{
			{Number: 1, Action: "open page", ExpectedResult: "form shown"},
			{Number: 2, Action: "submit"},
		},
		ExpectedResult: "dashboard shown",
	}

	want := "Login works\n\nHappy path\nStep: open page -> form shown\nStep: submit\nExpected: dashboard shown"
	if got := BuildDocument(e); got != want {
		t.Errorf("BuildDocument() = %q, want %q", got, want)
	}

	if got := BuildDocument(&knowledge.Entry{}); got != "" {
		t.Errorf("BuildDocument(empty) = %q, want empty", got)
	}
}
