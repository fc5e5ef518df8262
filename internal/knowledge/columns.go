package knowledge

import "strings"

// Canonical semantic field names a spreadsheet column can map to.
const (
	FieldTitle          = "title"
	FieldDescription    = "description"
	FieldSteps          = "steps"
	FieldExpectedResult = "expected_result"
	FieldPriority       = "priority"
	FieldTestType       = "test_type"
	FieldExternalKey    = "external_key"
)

// requiredFields must be resolvable for a batch to process at all.
// Individual rows missing values for them are counted as row errors.
var requiredFields = []string{FieldTitle, FieldExternalKey}

// ColumnMapping maps canonical field names to the actual header present in
// the uploaded file. Fields without a matching header are absent.
type ColumnMapping map[string]string

// headerAliases maps canonicalized header spellings to semantic fields.
// Keys are produced by canonicalizeHeader, so "Jira Key", "jira_key" and
// "JiraKey" all collapse to "jirakey".
var headerAliases = map[string][]string{
	FieldTitle:          {"title", "name", "summary", "testcase", "testcasetitle", "testcasename"},
	FieldDescription:    {"description", "desc", "details", "objective"},
	FieldSteps:          {"steps", "teststeps", "procedure", "testprocedure", "actions"},
	FieldExpectedResult: {"expectedresult", "expected", "expectedresults", "expectedoutcome", "expectation"},
	FieldPriority:       {"priority", "severity"},
	FieldTestType:       {"testtype", "type", "category"},
	FieldExternalKey:    {"externalkey", "jirakey", "issuekey", "storykey", "key"},
}

// canonicalizeHeader lowercases a header and removes spaces, underscores
// and dashes so cosmetic spelling differences do not defeat detection.
func canonicalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

// DetectColumns builds the mapping from canonical semantic fields to the
// headers present in the file. Matching is case-insensitive and ignores
// separator characters. Returns a MissingColumnsError when a required field
// has no matching header; optional fields are simply left unmapped.
func DetectColumns(headers []string) (ColumnMapping, error) {
	byCanonical := make(map[string]string, len(headers))
	for _, h := range headers {
		key := canonicalizeHeader(h)
		if _, taken := byCanonical[key]; !taken {
			byCanonical[key] = h
		}
	}

	mapping := make(ColumnMapping)
	for field, aliases := range headerAliases {
		for _, alias := range aliases {
			if header, ok := byCanonical[alias]; ok {
				mapping[field] = header
				break
			}
		}
	}

	var missing []string
	for _, field := range requiredFields {
		if _, ok := mapping[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing, Headers: headers}
	}

	return mapping, nil
}
