package generate

import (
	"fmt"
	"strings"

	"github.com/caseforge/caseforge/internal/knowledge"
	"github.com/caseforge/caseforge/internal/workitem"
)

const systemPrompt = `You are a senior QA engineer. You write precise, executable test cases for software requirements.

Respond with a JSON array only, no prose and no markdown fences. Each element must have this shape:
{
  "title": "short imperative title",
  "description": "what the test verifies and why",
  "steps": [{"step_number": 1, "action": "...", "expected_result": "..."}],
  "expected_result": "overall expected outcome",
  "priority": "high|medium|low",
  "test_type": "functional|regression|integration|edge_case"
}`

// buildPrompt assembles the user prompt: the work item under test plus
// similar historical test cases as worked examples, when any were retrieved.
func buildPrompt(item *workitem.Item, examples []*knowledge.Entry, count int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Write %d test cases for the following requirement.\n\n", count)
	fmt.Fprintf(&b, "Requirement: %s\n", item.Title)
	if item.ExternalKey != "" {
		fmt.Fprintf(&b, "Key: %s\n", item.ExternalKey)
	}
	if item.Description != "" {
		fmt.Fprintf(&b, "Details:\n%s\n", item.Description)
	}

	if len(examples) > 0 {
		b.WriteString("\nThese test cases from the same project cover similar functionality. Match their style, depth and conventions:\n")
		for i, e := range examples {
			fmt.Fprintf(&b, "\nExample %d: %s\n", i+1, e.Title)
			if e.Description != "" {
				fmt.Fprintf(&b, "Description: %s\n", e.Description)
			}
			for _, s := range e.Steps {
				fmt.Fprintf(&b, "  %d. %s", s.Number, s.Action)
				if s.ExpectedResult != "" {
					fmt.Fprintf(&b, " => %s", s.ExpectedResult)
				}
				b.WriteString("\n")
			}
			if e.ExpectedResult != "" {
				fmt.Fprintf(&b, "Expected: %s\n", e.ExpectedResult)
			}
		}
	}

	b.WriteString("\nReturn the JSON array only.")
	return b.String()
}
