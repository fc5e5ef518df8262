package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/llm"
)

const (
	// retrievalLimit bounds how many worked examples go into the prompt.
	retrievalLimit = 3

	defaultCaseCount = 3
)

// Generator orchestrates retrieval-augmented test case generation.
type Generator struct {
	workItems WorkItemSource
	retriever Retriever
	entries   EntrySource
	completer Completer
	cases     CaseStore
	logger    *slog.Logger

	newID func() string
}

func NewGenerator(workItems WorkItemSource, retriever Retriever, entries EntrySource, completer Completer, cases CaseStore, logger *slog.Logger) *Generator {
	return &Generator{
		workItems: workItems,
		retriever: retriever,
		entries:   entries,
		completer: completer,
		cases:     cases,
		logger:    logger,
		newID:     uuid.NewString,
	}
}

// Input describes one generation request.
type Input struct {
	ProjectID  string
	WorkItemID string
	CreatedBy  string
	Count      int
	Credential llm.Credential
}

// ForWorkItem generates cases for a single work item.
//
// Retrieval failures degrade the prompt (no worked examples) but never fail
// the request; completion failures and unparseable output do. Generated
// cases get default priority, type and draft status where the model left
// them out, and are persisted before returning.
func (g *Generator) ForWorkItem(ctx context.Context, in Input) (*Result, error) {
	item, err := g.workItems.Get(ctx, in.ProjectID, in.WorkItemID)
	if err != nil {
		return nil, err
	}

	count := in.Count
	if count <= 0 {
		count = defaultCaseCount
	}

	examples := g.retrieveExamples(ctx, item.Title+"\n"+item.Description, in.ProjectID)

	res := g.completer.Complete(ctx, in.Credential, llm.CompletionRequest{
		System: systemPrompt,
		Prompt: buildPrompt(item, examples, count),
	})
	if !res.Success {
		return nil, fmt.Errorf("generating cases for %s: %w", in.WorkItemID, res.Err)
	}

	cases, err := ParseCases(res.Content)
	if err != nil {
		return nil, fmt.Errorf("generating cases for %s: %w", in.WorkItemID, err)
	}

	now := time.Now().UTC()
	for _, c := range cases {
		c.ID = g.newID()
		c.WorkItemID = item.ID
		c.CreatedBy = in.CreatedBy
		c.Status = DefaultStatus
		c.CreatedAt = now
		c.UpdatedAt = now
		if c.Priority == "" {
			c.Priority = DefaultPriority
		}
		if c.TestType == "" {
			c.TestType = DefaultTestType
		}
	}

	if err := g.cases.Insert(ctx, cases); err != nil {
		return nil, fmt.Errorf("persisting cases for %s: %w", in.WorkItemID, err)
	}

	g.logger.Info("test cases generated",
		slog.String("work_item_id", item.ID),
		slog.Int("cases", len(cases)),
		slog.Int("examples", len(examples)),
		slog.String("model", res.Model),
		slog.Bool("used_system_key", res.UsedSystemKey))

	return &Result{
		WorkItemID:    item.ID,
		Cases:         cases,
		ExamplesUsed:  len(examples),
		Model:         res.Model,
		Provider:      res.Provider,
		Usage:         res.Usage,
		CostUSD:       res.CostUSD,
		UsedSystemKey: res.UsedSystemKey,
	}, nil
}

// retrieveExamples looks up similar historical test cases and loads their
// full content from the relational store. Any failure here means generating
// without examples, not failing the request.
func (g *Generator) retrieveExamples(ctx context.Context, query, projectID string) []*knowledge.Entry {
	query = strings.TrimSpace(query)
	if query == "" || g.retriever == nil {
		return nil
	}

	hits, err := g.retriever.SearchRelevant(ctx, query, projectID, retrievalLimit)
	if err != nil {
		g.logger.Warn("example retrieval failed, generating without examples",
			slog.String("project_id", projectID), slog.Any("error", err))
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if id, ok := h.Payload["entry_id"].(string); ok && id != "" {
			ids = append(ids, id)
		} else {
			ids = append(ids, h.ID)
		}
	}

	entries, err := g.entries.GetEntries(ctx, projectID, ids)
	if err != nil {
		g.logger.Warn("loading example entries failed, generating without examples",
			slog.String("project_id", projectID), slog.Any("error", err))
		return nil
	}
	return entries
}

// BulkInput describes a generation run over a work item's children.
type BulkInput struct {
	ProjectID  string
	ParentID   string
	CreatedBy  string
	Count      int
	Credential llm.Credential
}

// ForChildren generates cases for every direct child of a work item.
// Children that already have cases are skipped; each child is isolated, so
// one failure never aborts the rest of the run.
func (g *Generator) ForChildren(ctx context.Context, in BulkInput) (*BulkReport, error) {
	parent, err := g.workItems.Get(ctx, in.ProjectID, in.ParentID)
	if err != nil {
		return nil, err
	}

	children, err := g.workItems.Children(ctx, in.ProjectID, parent.ID)
	if err != nil {
		return nil, err
	}

	report := &BulkReport{Items: make([]BulkItem, 0, len(children))}
	for _, child := range children {
		item := BulkItem{WorkItemID: child.ID, Title: child.Title}

		exists, err := g.cases.HasCases(ctx, child.ID)
		if err != nil {
			item.Status = BulkFailed
			item.Error = err.Error()
			report.Failed++
			report.Items = append(report.Items, item)
			continue
		}
		if exists {
			item.Status = BulkSkipped
			report.Skipped++
			report.Items = append(report.Items, item)
			continue
		}

		res, err := g.ForWorkItem(ctx, Input{
			ProjectID:  in.ProjectID,
			WorkItemID: child.ID,
			CreatedBy:  in.CreatedBy,
			Count:      in.Count,
			Credential: in.Credential,
		})
		if err != nil {
			g.logger.Warn("bulk generation failed for child",
				slog.String("work_item_id", child.ID), slog.Any("error", err))
			item.Status = BulkFailed
			item.Error = err.Error()
			report.Failed++
		} else {
			item.Status = BulkGenerated
			item.Generated = len(res.Cases)
			report.Processed++
			report.Generated += len(res.Cases)
		}
		report.Items = append(report.Items, item)
	}

	return report, nil
}
