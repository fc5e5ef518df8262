package generate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caseforge/caseforge/internal/knowledge"
)

// ParseError indicates the model's output could not be decoded into test
// cases. The raw output is kept for diagnostics.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

type caseJSON struct {
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Steps          []knowledge.Step `json:"steps"`
	ExpectedResult string           `json:"expected_result"`
	Priority       string           `json:"priority"`
	TestType       string           `json:"test_type"`
}

// ParseCases decodes model output into cases. Markdown code fences are
// stripped first; a bare JSON object is accepted as a single-element array.
// Cases without a title are dropped.
func ParseCases(raw string) ([]*Case, error) {
	text := StripFences(raw)
	if text == "" {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("empty output")}
	}

	var decoded []caseJSON
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		var single caseJSON
		if err2 := json.Unmarshal([]byte(text), &single); err2 != nil {
			return nil, &ParseError{Raw: raw, Err: err}
		}
		decoded = []caseJSON{single}
	}

	var cases []*Case
	for _, c := range decoded {
		title := strings.TrimSpace(c.Title)
		if title == "" {
			continue
		}
		cases = append(cases, &Case{
			Title:          title,
			Description:    strings.TrimSpace(c.Description),
			Steps:          c.Steps,
			ExpectedResult: strings.TrimSpace(c.ExpectedResult),
			Priority:       strings.ToLower(strings.TrimSpace(c.Priority)),
			TestType:       strings.ToLower(strings.TrimSpace(c.TestType)),
		})
	}
	if len(cases) == 0 {
		return nil, &ParseError{Raw: raw, Err: fmt.Errorf("no usable test cases in output")}
	}
	return cases, nil
}

// StripFences removes a surrounding markdown code fence, with or without a
// language tag. Output without fences passes through unchanged.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop the language tag on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		return strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
