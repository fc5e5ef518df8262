package knowledge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// HashRow computes the deduplication fingerprint of a normalized row.
// The digest covers the semantic content fields in a fixed canonical order,
// so the same logical test case hashes identically regardless of the column
// order or header spelling in the source file.
func HashRow(row NormalizedRow) string {
	stepsJSON := "[]"
	if len(row.Steps) > 0 {
		if b, err := json.Marshal(row.Steps); err == nil {
			stepsJSON = string(b)
		}
	}

	canonical := strings.Join([]string{
		row.Title,
		row.Description,
		stepsJSON,
		row.ExpectedResult,
		row.Priority,
		row.TestType,
		row.ExternalKey,
	}, "\x1f")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}
