package knowledge

import (
	"encoding/json"
	"strings"
)

// NormalizedRow is a raw row projected through a column mapping into
// canonical fields. Unmapped fields stay zero-valued; only the batch
// orchestrator decides whether a missing value makes the row an error.
type NormalizedRow struct {
	Title          string
	Description    string
	Steps          []Step
	ExpectedResult string
	Priority       string
	TestType       string
	ExternalKey    string

	SourceRowNumber int
	Raw             map[string]string
}

// NormalizeRow projects a parsed row through the detected column mapping.
// The steps cell accepts either a JSON array of step objects or free text
// with one instruction per line; free-text lines become synthetic steps with
// sequential numbering and no declared expected result.
func NormalizeRow(row ParsedRow, mapping ColumnMapping) NormalizedRow {
	get := func(field string) string {
		header, ok := mapping[field]
		if !ok {
			return ""
		}
		return strings.TrimSpace(row.Data[header])
	}

	return NormalizedRow{
		Title:           get(FieldTitle),
		Description:     get(FieldDescription),
		Steps:           parseSteps(get(FieldSteps)),
		ExpectedResult:  get(FieldExpectedResult),
		Priority:        strings.ToLower(get(FieldPriority)),
		TestType:        strings.ToLower(get(FieldTestType)),
		ExternalKey:     get(FieldExternalKey),
		SourceRowNumber: row.Number,
		Raw:             row.Data,
	}
}

// parseSteps turns a steps cell into an ordered step list. Malformed JSON
// falls back to line splitting rather than failing the row.
func parseSteps(value string) []Step {
	if value == "" {
		return nil
	}

	if strings.HasPrefix(value, "[") {
		var steps []Step
		if err := json.Unmarshal([]byte(value), &steps); err == nil && len(steps) > 0 {
			renumber(steps)
			return steps
		}

		// A JSON array of plain strings is also accepted.
		var lines []string
		if err := json.Unmarshal([]byte(value), &lines); err == nil && len(lines) > 0 {
			return stepsFromLines(lines)
		}
	}

	return stepsFromLines(strings.Split(value, "\n"))
}

func stepsFromLines(lines []string) []Step {
	var steps []Step
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps = append(steps, Step{Number: len(steps) + 1, Action: line})
	}
	return steps
}

// renumber fills in missing step numbers sequentially, preserving declared
// ones only when every step carries one.
func renumber(steps []Step) {
	for _, s := range steps {
		if s.Number == 0 {
			for i := range steps {
				steps[i].Number = i + 1
			}
			return
		}
	}
}
