// Package generate produces draft test cases for work items by combining
// semantic retrieval over ingested knowledge with LLM completion.
package generate

import (
	"context"
	"time"

	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/vector"
	"github.com/caseforge/caseforge/internal/workitem"
)

// Default attributes for generated cases when the model omits them.
const (
	DefaultPriority = "medium"
	DefaultTestType = "functional"
	DefaultStatus   = "draft"
)

// Case is one generated test case. Cases are always created as drafts for
// human review.
type Case struct {
	ID             string           `json:"id"`
	WorkItemID     string           `json:"work_item_id"`
	CreatedBy      string           `json:"created_by,omitempty"`
	Title          string           `json:"title"`
	Description    string           `json:"description,omitempty"`
	Steps          []knowledge.Step `json:"steps,omitempty"`
	ExpectedResult string           `json:"expected_result,omitempty"`
	Priority       string           `json:"priority"`
	TestType       string           `json:"test_type"`
	Status         string           `json:"status"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Result is the outcome of generating cases for one work item.
type Result struct {
	WorkItemID    string     `json:"work_item_id"`
	Cases         []*Case    `json:"cases"`
	ExamplesUsed  int        `json:"examples_used"`
	Model         string     `json:"model"`
	Provider      string     `json:"provider"`
	Usage         llm.Usage  `json:"usage"`
	CostUSD       float64    `json:"cost_usd"`
	UsedSystemKey bool       `json:"used_system_key"`
}

// BulkItemStatus is the per-child outcome of a bulk generation run.
type BulkItemStatus string

const (
	BulkGenerated BulkItemStatus = "generated"
	BulkSkipped   BulkItemStatus = "skipped"
	BulkFailed    BulkItemStatus = "failed"
)

// BulkItem reports one child's outcome.
type BulkItem struct {
	WorkItemID string         `json:"work_item_id"`
	Title      string         `json:"title"`
	Status     BulkItemStatus `json:"status"`
	Generated  int            `json:"generated"`
	Error      string         `json:"error,omitempty"`
}

// BulkReport aggregates a bulk generation run over a parent's children.
type BulkReport struct {
	Processed int        `json:"processed"`
	Skipped   int        `json:"skipped"`
	Failed    int        `json:"failed"`
	Generated int        `json:"generated"`
	Items     []BulkItem `json:"items"`
}

// WorkItemSource reads the work item hierarchy. *workitem.Store satisfies it.
type WorkItemSource interface {
	Get(ctx context.Context, projectID, itemID string) (*workitem.Item, error)
	Children(ctx context.Context, projectID, parentID string) ([]*workitem.Item, error)
}

// Retriever finds knowledge entries similar to a query. *vector.Indexer
// satisfies it.
type Retriever interface {
	SearchRelevant(ctx context.Context, query, projectID string, limit int) ([]vector.Hit, error)
}

// EntrySource fetches full entries by ID; the relational store is the
// authoritative source for entry content, the index payload is not.
// *knowledge.Store satisfies it.
type EntrySource interface {
	GetEntries(ctx context.Context, projectID string, ids []string) ([]*knowledge.Entry, error)
}

// Completer runs LLM completions. *llm.Gateway satisfies it.
type Completer interface {
	Complete(ctx context.Context, cred llm.Credential, req llm.CompletionRequest) llm.CompletionResult
}

// CaseStore persists generated cases. *Store satisfies it.
type CaseStore interface {
	Insert(ctx context.Context, cases []*Case) error
	ListByWorkItem(ctx context.Context, workItemID string) ([]*Case, error)
	HasCases(ctx context.Context, workItemID string) (bool, error)
}
