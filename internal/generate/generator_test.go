package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/log"
	"github.com/caseforge/caseforge/internal/vector"
	"github.com/caseforge/caseforge/internal/workitem"
)

type fakeWorkItems struct {
	items    map[string]*workitem.Item
	children map[string][]*workitem.Item
}

func (f *fakeWorkItems) Get(_ context.Context, projectID, itemID string) (*workitem.Item, error) {
	item, ok := f.items[itemID]
	if !ok || item.ProjectID != projectID {
		return nil, workitem.ErrNotFound
	}
	return item, nil
}

func (f *fakeWorkItems) Children(_ context.Context, _, parentID string) ([]*workitem.Item, error) {
	return f.children[parentID], nil
}

type fakeRetriever struct {
	hits []vector.Hit
	err  error
}

func (f *fakeRetriever) SearchRelevant(_ context.Context, _, _ string, _ int) ([]vector.Hit, error) {
	return f.hits, f.err
}

type fakeEntrySource struct {
	entries map[string]*knowledge.Entry
}

func (f *fakeEntrySource) GetEntries(_ context.Context, _ string, ids []string) ([]*knowledge.Entry, error) {
	var out []*knowledge.Entry
	for _, id := range ids {
		if e, ok := f.entries[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeCompleter struct {
	result  llm.CompletionResult
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, _ llm.Credential, req llm.CompletionRequest) llm.CompletionResult {
	f.prompts = append(f.prompts, req.Prompt)
	return f.result
}

type fakeCaseStore struct {
	inserted  []*Case
	existing  map[string]bool
	insertErr error
}

func (f *fakeCaseStore) Insert(_ context.Context, cases []*Case) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, cases...)
	return nil
}

func (f *fakeCaseStore) ListByWorkItem(_ context.Context, workItemID string) ([]*Case, error) {
	var out []*Case
	for _, c := range f.inserted {
		if c.WorkItemID == workItemID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCaseStore) HasCases(_ context.Context, workItemID string) (bool, error) {
	if f.existing[workItemID] {
		return true, nil
	}
	for _, c := range f.inserted {
		if c.WorkItemID == workItemID {
			return true, nil
		}
	}
	return false, nil
}

type generatorDeps struct {
	workItems *fakeWorkItems
	retriever *fakeRetriever
	entries   *fakeEntrySource
	completer *fakeCompleter
	cases     *fakeCaseStore
}

func okCompletion(content string) llm.CompletionResult {
	return llm.CompletionResult{
		Success:  true,
		Content:  content,
		Model:    "gpt-4o-mini",
		Provider: "openai",
		Usage:    llm.Usage{PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300},
		CostUSD:  0.0001,
	}
}

func newTestGenerator(t *testing.T) (*Generator, *generatorDeps) {
	t.Helper()
	deps := &generatorDeps{
		workItems: &fakeWorkItems{
			items: map[string]*workitem.Item{
				"wi-1": {ID: "wi-1", ProjectID: "proj-1", ExternalKey: "PROJ-1", Title: "User login", Description: "Users sign in with email"},
			},
			children: map[string][]*workitem.Item{},
		},
		retriever: &fakeRetriever{},
		entries:   &fakeEntrySource{entries: map[string]*knowledge.Entry{}},
		completer: &fakeCompleter{result: okCompletion(`[{"title":"Login happy path","priority":"high"}]`)},
		cases:     &fakeCaseStore{},
	}
	gen := NewGenerator(deps.workItems, deps.retriever, deps.entries, deps.completer, deps.cases, log.NewNop())

	seq := 0
	gen.newID = func() string {
		seq++
		return fmt.Sprintf("case-%d", seq)
	}
	return gen, deps
}

func TestForWorkItem(t *testing.T) {
	gen, deps := newTestGenerator(t)

	res, err := gen.ForWorkItem(context.Background(), Input{ProjectID: "proj-1", WorkItemID: "wi-1"})
	if err != nil {
		t.Fatalf("ForWorkItem() error = %v", err)
	}

	if len(res.Cases) != 1 {
		t.Fatalf("len(Cases) = %d, want 1", len(res.Cases))
	}
	c := res.Cases[0]
	if c.WorkItemID != "wi-1" || c.Status != DefaultStatus {
		t.Errorf("case = %+v, want draft attached to wi-1", c)
	}
	if c.Priority != "high" {
		t.Errorf("priority = %q, want high (from model)", c.Priority)
	}
	if c.TestType != DefaultTestType {
		t.Errorf("test type = %q, want default %q", c.TestType, DefaultTestType)
	}
	if len(deps.cases.inserted) != 1 {
		t.Errorf("persisted cases = %d, want 1", len(deps.cases.inserted))
	}
	if res.Model != "gpt-4o-mini" || res.CostUSD <= 0 {
		t.Errorf("result metadata = %+v", res)
	}
}

func TestForWorkItemIncludesExamples(t *testing.T) {
	gen, deps := newTestGenerator(t)
	deps.retriever.hits = []vector.Hit{
		{ID: "e1", Payload: map[string]any{"entry_id": "e1", "project_id": "proj-1"}},
	}
	deps.entries.entries["e1"] = &knowledge.Entry{
		ID:    "e1",
		Title: "Historical login test",
		Steps: []knowledge.Step{{Number: 1, Action: "enter credentials", ExpectedResult: "accepted"}},
	}

	res, err := gen.ForWorkItem(context.Background(), Input{ProjectID: "proj-1", WorkItemID: "wi-1"})
	if err != nil {
		t.Fatalf("ForWorkItem() error = %v", err)
	}

	if res.ExamplesUsed != 1 {
		t.Errorf("ExamplesUsed = %d, want 1", res.ExamplesUsed)
	}
	prompt := deps.completer.prompts[0]
	for _, want := range []string{"User login", "Historical login test", "enter credentials"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestForWorkItemRetrievalFailureDegrades(t *testing.T) {
	gen, deps := newTestGenerator(t)
	deps.retriever.err = errors.New("qdrant down")

	res, err := gen.ForWorkItem(context.Background(), Input{ProjectID: "proj-1", WorkItemID: "wi-1"})
	if err != nil {
		t.Fatalf("ForWorkItem() error = %v, want generation without examples", err)
	}
	if res.ExamplesUsed != 0 {
		t.Errorf("ExamplesUsed = %d, want 0", res.ExamplesUsed)
	}
}

func TestForWorkItemCompletionFailure(t *testing.T) {
	gen, deps := newTestGenerator(t)
	deps.completer.result = llm.CompletionResult{Err: errors.New("all attempts failed")}

	if _, err := gen.ForWorkItem(context.Background(), Input{ProjectID: "proj-1", WorkItemID: "wi-1"}); err == nil {
		t.Error("ForWorkItem() error = nil, want completion failure")
	}
	if len(deps.cases.inserted) != 0 {
		t.Errorf("cases persisted despite failure: %d", len(deps.cases.inserted))
	}
}

func TestForWorkItemUnparseableOutput(t *testing.T) {
	gen, deps := newTestGenerator(t)
	deps.completer.result = okCompletion("I cannot produce JSON today.")

	_, err := gen.ForWorkItem(context.Background(), Input{ProjectID: "proj-1", WorkItemID: "wi-1"})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("ForWorkItem() error = %v, want ParseError", err)
	}
}

func TestForWorkItemUnknownItem(t *testing.T) {
	gen, _ := newTestGenerator(t)

	if _, err := gen.ForWorkItem(context.Background(), Input{ProjectID: "proj-1", WorkItemID: "nope"}); !errors.Is(err, workitem.ErrNotFound) {
		t.Errorf("ForWorkItem() error = %v, want ErrNotFound", err)
	}
}

func TestForChildren(t *testing.T) {
	gen, deps := newTestGenerator(t)
	deps.workItems.items["parent"] = &workitem.Item{ID: "parent", ProjectID: "proj-1", Title: "Epic"}
	for _, id := range []string{"c1", "c2", "c3"} {
		child := &workitem.Item{ID: id, ProjectID: "proj-1", Title: "Story " + id}
		deps.workItems.items[id] = child
		deps.workItems.children["parent"] = append(deps.workItems.children["parent"], child)
	}
	deps.cases.existing = map[string]bool{"c2": true}

	report, err := gen.ForChildren(context.Background(), BulkInput{ProjectID: "proj-1", ParentID: "parent"})
	if err != nil {
		t.Fatalf("ForChildren() error = %v", err)
	}

	if report.Processed != 2 || report.Skipped != 1 || report.Failed != 0 {
		t.Errorf("report = %+v, want processed=2 skipped=1", report)
	}
	if report.Generated != 2 {
		t.Errorf("Generated = %d, want 2", report.Generated)
	}
	if len(report.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(report.Items))
	}
	if report.Items[1].Status != BulkSkipped {
		t.Errorf("Items[1].Status = %s, want skipped", report.Items[1].Status)
	}
}

func TestForChildrenIsolatesFailures(t *testing.T) {
	gen, deps := newTestGenerator(t)
	deps.workItems.items["parent"] = &workitem.Item{ID: "parent", ProjectID: "proj-1", Title: "Epic"}
	// c1 exists in the hierarchy; c-missing is a dangling child reference that
	// will fail its lookup.
	c1 := &workitem.Item{ID: "c1", ProjectID: "proj-1", Title: "Story"}
	deps.workItems.items["c1"] = c1
	deps.workItems.children["parent"] = []*workitem.Item{
		{ID: "c-missing", ProjectID: "proj-1", Title: "Gone"},
		c1,
	}

	report, err := gen.ForChildren(context.Background(), BulkInput{ProjectID: "proj-1", ParentID: "parent"})
	if err != nil {
		t.Fatalf("ForChildren() error = %v", err)
	}

	if report.Failed != 1 || report.Processed != 1 {
		t.Errorf("report = %+v, want one failure and one success", report)
	}
	if report.Items[0].Error == "" {
		t.Error("failed item carries no error message")
	}
}

func TestForChildrenNoChildren(t *testing.T) {
	gen, deps := newTestGenerator(t)
	deps.workItems.items["parent"] = &workitem.Item{ID: "parent", ProjectID: "proj-1", Title: "Epic"}

	report, err := gen.ForChildren(context.Background(), BulkInput{ProjectID: "proj-1", ParentID: "parent"})
	if err != nil {
		t.Fatalf("ForChildren() error = %v", err)
	}
	if report.Processed+report.Skipped+report.Failed != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
}
