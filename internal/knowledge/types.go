// Package knowledge implements ingestion of historical test-case
// spreadsheets: parsing, column detection, row normalization, content
// hashing, persistence and the batch lifecycle state machine.
package knowledge

import "time"

// BatchStatus is the lifecycle state of an uploaded knowledge batch.
//
// Creation starts a batch at upload_pending with its storage locator
// reserved. Transitions are monotonic: upload_pending → processing →
// completed|failed. deleted is reachable from any state via soft delete.
// A batch in a terminal state is immutable except for soft delete.
// pending is kept for rows written before locator reservation moved into
// creation; uploads from it remain accepted.
type BatchStatus string

const (
	BatchPending       BatchStatus = "pending"
	BatchUploadPending BatchStatus = "upload_pending"
	BatchProcessing    BatchStatus = "processing"
	BatchCompleted     BatchStatus = "completed"
	BatchFailed        BatchStatus = "failed"
	BatchDeleted       BatchStatus = "deleted"
)

// EntryStatus is the lifecycle state of a normalized knowledge entry.
type EntryStatus string

const (
	EntryActive    EntryStatus = "active"
	EntryDiscarded EntryStatus = "discarded"
	EntryDeleted   EntryStatus = "deleted"
)

// Batch represents one uploaded historical test-case file and its
// processing lifecycle.
type Batch struct {
	ID             string
	OrganizationID string
	ProjectID      string
	UploadedBy     string

	FileName          string
	FileType          string
	FileSizeBytes     int64
	OriginalFileURI   string
	NormalizedFileURI string

	Status         BatchStatus
	RowCount       int
	ProcessedCount int
	ErrorCount     int
	ErrorDetails   map[string]any
	ColumnMapping  ColumnMapping

	Checksum    string
	StartedAt   *time.Time
	CompletedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Step is one ordered instruction within a test case.
type Step struct {
	Number         int    `json:"step_number"`
	Action         string `json:"action"`
	ExpectedResult string `json:"expected_result,omitempty"`
}

// Entry is one normalized historical test case extracted from a batch row.
// Entries are created only by the batch orchestrator during processing and
// updated only to attach indexing metadata afterwards.
type Entry struct {
	ID             string
	BatchID        string
	OrganizationID string
	ProjectID      string
	WorkItemID     string // empty when no work item matched the external key

	ExternalKey    string
	Title          string
	Description    string
	Steps          []Step
	ExpectedResult string
	Priority       string
	TestType       string
	Tags           []string

	SourceRowNumber int
	SourceRowHash   string
	RawPayload      map[string]string

	VectorID       string
	EmbeddingModel string

	Status    EntryStatus
	CreatedAt time.Time
}

// EntryFilter narrows ListEntries results. Zero values mean "no filter".
type EntryFilter struct {
	ExternalKey string
	WorkItemID  string
	BatchID     string
	Limit       int
}

// IndexResult reports the indexing outcome for a single entry. Entries with
// a non-nil Err stay searchable in the relational store but are excluded
// from semantic retrieval until re-ingestion.
type IndexResult struct {
	EntryID        string
	VectorID       string
	EmbeddingModel string
	Err            error
}
