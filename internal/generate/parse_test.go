package generate

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/caseforge/caseforge/internal/knowledge"
)

func TestParseCases(t *testing.T) {
	raw := `[
		{"title":"Login with valid credentials","description":"Happy path",
		 "steps":[{"step_number":1,"action":"open login page","expected_result":"form shown"}],
		 "expected_result":"user reaches dashboard","priority":"High","test_type":"Functional"},
		{"title":"Login with wrong password"}
	]`

	cases, err := ParseCases(raw)
	if err != nil {
		t.Fatalf("ParseCases() error = %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("len(cases) = %d, want 2", len(cases))
	}

	want := &Case{
		Title:          "Login with valid credentials",
		Description:    "Happy path",
		Steps:          []knowledge.Step{{Number: 1, Action: "open login page", ExpectedResult: "form shown"}},
		ExpectedResult: "user reaches dashboard",
		Priority:       "high",
		TestType:       "functional",
	}
	if diff := cmp.Diff(want, cases[0]); diff != "" {
		t.Errorf("cases[0] mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCasesFencedOutput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"json fence", "```json\n[{\"title\":\"t\"}]\n```"},
		{"bare fence", "```\n[{\"title\":\"t\"}]\n```"},
		{"surrounding whitespace", "\n\n```json\n[{\"title\":\"t\"}]\n```\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cases, err := ParseCases(tt.raw)
			if err != nil {
				t.Fatalf("ParseCases() error = %v", err)
			}
			if len(cases) != 1 || cases[0].Title != "t" {
				t.Errorf("cases = %+v", cases)
			}
		})
	}
}

func TestParseCasesBareObject(t *testing.T) {
	cases, err := ParseCases(`{"title":"single case"}`)
	if err != nil {
		t.Fatalf("ParseCases() error = %v", err)
	}
	if len(cases) != 1 || cases[0].Title != "single case" {
		t.Errorf("cases = %+v, want one case titled 'single case'", cases)
	}
}

func TestParseCasesDropsUntitled(t *testing.T) {
	cases, err := ParseCases(`[{"title":"kept"},{"title":"  "},{"description":"no title"}]`)
	if err != nil {
		t.Fatalf("ParseCases() error = %v", err)
	}
	if len(cases) != 1 || cases[0].Title != "kept" {
		t.Errorf("cases = %+v, want only the titled case", cases)
	}
}

func TestParseCasesInvalid(t *testing.T) {
	for _, raw := range []string{"", "not json at all", "[]", `[{"description":"untitled"}]`} {
		_, err := ParseCases(raw)
		var parseErr *ParseError
		if !errors.As(err, &parseErr) {
			t.Errorf("ParseCases(%q) error = %v, want ParseError", raw, err)
		}
	}
}

func TestParseCasesKeepsRawOnFailure(t *testing.T) {
	raw := "the model rambled instead of returning JSON"
	_, err := ParseCases(raw)

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("error = %v, want ParseError", err)
	}
	if parseErr.Raw != raw {
		t.Errorf("ParseError.Raw = %q, want original output", parseErr.Raw)
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"```[1]```", "[1]"},
		{"  ```json\n{}\n```  ", "{}"},
	}
	for _, tt := range tests {
		if got := StripFences(tt.in); got != tt.want {
			t.Errorf("StripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
