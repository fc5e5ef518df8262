package knowledge

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDetectColumns(t *testing.T) {
	tests := []struct {
		name    string
		headers []string
		want    ColumnMapping
	}{
		{
			name:    "exact canonical names",
			headers: []string{"title", "description", "steps", "expected_result", "priority", "test_type", "external_key"},
			want: ColumnMapping{
				FieldTitle:          "title",
				FieldDescription:    "description",
				FieldSteps:          "steps",
				FieldExpectedResult: "expected_result",
				FieldPriority:       "priority",
				FieldTestType:       "test_type",
				FieldExternalKey:    "external_key",
			},
		},
		{
			name:    "mixed case and separators",
			headers: []string{"Title", "Test Steps", "Expected", "Jira-Key"},
			want: ColumnMapping{
				FieldTitle:          "Title",
				FieldSteps:          "Test Steps",
				FieldExpectedResult: "Expected",
				FieldExternalKey:    "Jira-Key",
			},
		},
		{
			name:    "alias spellings",
			headers: []string{"Summary", "Objective", "Procedure", "Expected Outcome", "Severity", "Category", "Issue Key"},
			want: ColumnMapping{
				FieldTitle:          "Summary",
				FieldDescription:    "Objective",
				FieldSteps:          "Procedure",
				FieldExpectedResult: "Expected Outcome",
				FieldPriority:       "Severity",
				FieldTestType:       "Category",
				FieldExternalKey:    "Issue Key",
			},
		},
		{
			name:    "only required columns",
			headers: []string{"Name", "Story Key", "Unrelated"},
			want: ColumnMapping{
				FieldTitle:       "Name",
				FieldExternalKey: "Story Key",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectColumns(tt.headers)
			if err != nil {
				t.Fatalf("DetectColumns() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mapping mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectColumnsMissingRequired(t *testing.T) {
	tests := []struct {
		name        string
		headers     []string
		wantMissing []string
	}{
		{"no title", []string{"Jira Key", "Steps"}, []string{FieldTitle}},
		{"no external key", []string{"Title", "Steps"}, []string{FieldExternalKey}},
		{"nothing matches", []string{"foo", "bar"}, []string{FieldTitle, FieldExternalKey}},
		{"empty header row", nil, []string{FieldTitle, FieldExternalKey}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DetectColumns(tt.headers)

			var missingErr *MissingColumnsError
			if !errors.As(err, &missingErr) {
				t.Fatalf("DetectColumns() error = %v, want MissingColumnsError", err)
			}
			if diff := cmp.Diff(tt.wantMissing, missingErr.Missing); diff != "" {
				t.Errorf("missing fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectColumnsFirstHeaderWins(t *testing.T) {
	mapping, err := DetectColumns([]string{"Title", "title", "Key"})
	if err != nil {
		t.Fatalf("DetectColumns() error = %v", err)
	}
	if got := mapping[FieldTitle]; got != "Title" {
		t.Errorf("mapping[title] = %q, want first occurrence %q", got, "Title")
	}
}
