package knowledge

import "testing"

func TestHashRowDeterministic(t *testing.T) {
	row := NormalizedRow{
		Title:          "Login works",
		Description:    "Happy path",
		Steps:          []Step{{Number: 1, Action: "open page"}},
		ExpectedResult: "dashboard shown",
		Priority:       "high",
		TestType:       "functional",
		ExternalKey:    "PROJ-1",
	}

	first := HashRow(row)
	second := HashRow(row)
	if first != second {
		t.Errorf("HashRow() not deterministic: %s != %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("HashRow() length = %d, want 64 hex chars", len(first))
	}
}

// The hash covers canonical fields only, so the same logical test case
// produces the same digest regardless of source column order or spelling.
func TestHashRowIgnoresSourceLayout(t *testing.T) {
	fromCSV := NormalizedRow{
		Title:           "Login works",
		ExternalKey:     "PROJ-1",
		SourceRowNumber: 2,
		Raw:             map[string]string{"Title": "Login works", "Jira Key": "PROJ-1"},
	}
	fromXLSX := NormalizedRow{
		Title:           "Login works",
		ExternalKey:     "PROJ-1",
		SourceRowNumber: 9,
		Raw:             map[string]string{"key": "PROJ-1", "name": "Login works"},
	}

	if HashRow(fromCSV) != HashRow(fromXLSX) {
		t.Error("HashRow() differs for identical canonical content")
	}
}

func TestHashRowSensitiveToContent(t *testing.T) {
	base := NormalizedRow{Title: "Login works", ExternalKey: "PROJ-1"}

	variants := []NormalizedRow{
		{Title: "Login fails", ExternalKey: "PROJ-1"},
		{Title: "Login works", ExternalKey: "PROJ-2"},
		{Title: "Login works", ExternalKey: "PROJ-1", Priority: "high"},
		{Title: "Login works", ExternalKey: "PROJ-1", Steps: []Step{{Number: 1, Action: "open"}}},
	}
	for i, v := range variants {
		if HashRow(base) == HashRow(v) {
			t.Errorf("variant %d hashes equal to base, want different", i)
		}
	}
}

// Field boundaries must not be ambiguous: content shifting across adjacent
// fields has to change the digest.
func TestHashRowFieldBoundaries(t *testing.T) {
	a := NormalizedRow{Title: "ab", Description: "c", ExternalKey: "PROJ-1"}
	b := NormalizedRow{Title: "a", Description: "bc", ExternalKey: "PROJ-1"}

	if HashRow(a) == HashRow(b) {
		t.Error("HashRow() collides when content shifts across field boundaries")
	}
}
