package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caseforge/caseforge/internal/storage"
)

// BatchStore is the persistence surface the orchestrator needs.
// *Store satisfies it.
type BatchStore interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, projectID, batchID string) (*Batch, error)
	ListBatches(ctx context.Context, projectID string, limit, offset int) ([]*Batch, error)
	UpdateBatch(ctx context.Context, b *Batch) error
	SoftDeleteBatch(ctx context.Context, projectID, batchID string) error
	InsertEntries(ctx context.Context, entries []*Entry) error
	ListEntries(ctx context.Context, projectID string, filter EntryFilter) ([]*Entry, error)
	AttachVectorMetadata(ctx context.Context, entryID, vectorID, embeddingModel string) error
}

// Indexer pushes entries into the similarity index. Indexing is best-effort:
// per-entry failures are reported in the results, never as an error that
// would fail the batch.
type Indexer interface {
	IndexEntries(ctx context.Context, entries []*Entry) []IndexResult
	RemoveEntries(ctx context.Context, projectID string, vectorIDs []string) error
}

// WorkItemResolver maps external keys to work item IDs within a project.
// Keys with no matching work item are absent from the returned map.
type WorkItemResolver interface {
	ResolveByExternalKeys(ctx context.Context, projectID string, keys []string) (map[string]string, error)
}

// BatchLimits are the upload constraints enforced at batch creation.
type BatchLimits struct {
	MaxFileSizeBytes  int64
	AllowedExtensions []string
}

// BatchService orchestrates the ingestion lifecycle: creation, file upload,
// processing and soft deletion.
type BatchService struct {
	store    BatchStore
	blobs    storage.BlobStore
	indexer  Indexer
	resolver WorkItemResolver
	limits   BatchLimits
	logger   *slog.Logger

	newID func() string
}

func NewBatchService(store BatchStore, blobs storage.BlobStore, indexer Indexer, resolver WorkItemResolver, limits BatchLimits, logger *slog.Logger) *BatchService {
	return &BatchService{
		store:    store,
		blobs:    blobs,
		indexer:  indexer,
		resolver: resolver,
		limits:   limits,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// CreateBatchInput describes a new upload announcement.
type CreateBatchInput struct {
	OrganizationID string
	ProjectID      string
	UploadedBy     string
	FileName       string
	FileType       string
	FileSizeBytes  int64
}

// Create registers a new batch awaiting its file. The declared type and size
// are validated up front so clients learn about unsupported files before
// transferring any bytes, and the deterministic storage locator is reserved
// before any of them are written.
func (s *BatchService) Create(ctx context.Context, in CreateBatchInput) (*Batch, error) {
	ext := normalizeExtension(in.FileType)
	if !s.extensionAllowed(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, in.FileType)
	}
	if s.limits.MaxFileSizeBytes > 0 && in.FileSizeBytes > s.limits.MaxFileSizeBytes {
		return nil, fmt.Errorf("file size %d exceeds limit of %d bytes", in.FileSizeBytes, s.limits.MaxFileSizeBytes)
	}

	id := s.newID()
	path := storage.OriginalObjectPath(in.OrganizationID, in.ProjectID, id, storage.SanitizeFilename(in.FileName))
	b := &Batch{
		ID:              id,
		OrganizationID:  in.OrganizationID,
		ProjectID:       in.ProjectID,
		UploadedBy:      in.UploadedBy,
		FileName:        in.FileName,
		FileType:        ext,
		FileSizeBytes:   in.FileSizeBytes,
		Status:          BatchUploadPending,
		OriginalFileURI: s.blobs.URI(path),
	}

	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("knowledge batch created",
		slog.String("batch_id", b.ID),
		slog.String("project_id", b.ProjectID),
		slog.String("file_name", b.FileName))

	return b, nil
}

// UploadOriginal stores the raw file bytes under the locator reserved at
// creation and records their checksum. Allowed while the batch is pending or
// upload_pending; re-uploading before processing replaces the previous file.
func (s *BatchService) UploadOriginal(ctx context.Context, projectID, batchID string, data []byte) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, projectID, batchID)
	if err != nil {
		return nil, err
	}
	if b.Status != BatchPending && b.Status != BatchUploadPending {
		return nil, fmt.Errorf("%w: status is %s", ErrBatchNotProcessable, b.Status)
	}
	if s.limits.MaxFileSizeBytes > 0 && int64(len(data)) > s.limits.MaxFileSizeBytes {
		return nil, fmt.Errorf("file size %d exceeds limit of %d bytes", len(data), s.limits.MaxFileSizeBytes)
	}

	path := storage.OriginalObjectPath(b.OrganizationID, b.ProjectID, b.ID, storage.SanitizeFilename(b.FileName))
	uri, err := s.blobs.Put(ctx, path, data, contentTypeFor(b.FileType))
	if err != nil {
		return nil, fmt.Errorf("storing original file: %w", err)
	}

	sum := sha256.Sum256(data)
	b.OriginalFileURI = uri
	b.Checksum = hex.EncodeToString(sum[:])
	b.FileSizeBytes = int64(len(data))
	b.Status = BatchUploadPending

	if err := s.store.UpdateBatch(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("original file stored",
		slog.String("batch_id", b.ID),
		slog.Int("size_bytes", len(data)))

	return b, nil
}

// Process runs the ingestion pipeline for an uploaded batch: download,
// parse, column detection, row normalization, persistence and indexing.
//
// The batch never stays in processing: every exit path lands on completed or
// failed. Row-level problems (missing title or external key) increment the
// error count; only pipeline-level failures mark the batch failed. Indexing
// failures are recorded but do not fail an otherwise completed batch.
func (s *BatchService) Process(ctx context.Context, projectID, batchID string) (*Batch, error) {
	b, err := s.store.GetBatch(ctx, projectID, batchID)
	if err != nil {
		return nil, err
	}
	// The checksum is only set once bytes have actually been stored; the
	// locator itself is reserved at creation.
	if b.Status != BatchUploadPending || b.Checksum == "" {
		return nil, fmt.Errorf("%w: status is %s", ErrBatchNotProcessable, b.Status)
	}

	now := time.Now().UTC()
	b.Status = BatchProcessing
	b.StartedAt = &now
	if err := s.store.UpdateBatch(ctx, b); err != nil {
		return nil, err
	}

	if err := s.runPipeline(ctx, b); err != nil {
		s.failBatch(ctx, b, err)
		return b, nil
	}

	done := time.Now().UTC()
	b.Status = BatchCompleted
	b.CompletedAt = &done
	if err := s.store.UpdateBatch(ctx, b); err != nil {
		return nil, err
	}

	s.logger.Info("knowledge batch completed",
		slog.String("batch_id", b.ID),
		slog.Int("rows", b.RowCount),
		slog.Int("processed", b.ProcessedCount),
		slog.Int("errors", b.ErrorCount))

	return b, nil
}

func (s *BatchService) runPipeline(ctx context.Context, b *Batch) error {
	path := storage.OriginalObjectPath(b.OrganizationID, b.ProjectID, b.ID, storage.SanitizeFilename(b.FileName))
	data, err := s.blobs.Get(ctx, path)
	if err != nil {
		return &ProcessingError{Stage: "download", Err: err}
	}

	file, err := Parse(data, b.FileType)
	if err != nil {
		return &ProcessingError{Stage: "parse", Err: err}
	}

	mapping, err := DetectColumns(file.Headers)
	if err != nil {
		return &ProcessingError{Stage: "columns", Err: err}
	}
	b.ColumnMapping = mapping
	b.RowCount = len(file.Rows)

	entries, rowErrors := s.normalizeRows(b, file.Rows, mapping)
	b.ProcessedCount = len(entries)
	b.ErrorCount = len(rowErrors)
	if len(rowErrors) > 0 {
		b.ErrorDetails = map[string]any{"row_errors": rowErrors}
	}

	if err := s.resolveWorkItems(ctx, b, entries); err != nil {
		return &ProcessingError{Stage: "resolve", Err: err}
	}

	if err := s.store.InsertEntries(ctx, entries); err != nil {
		return &ProcessingError{Stage: "persist", Err: err}
	}

	s.writeNormalizedArtifact(ctx, b, entries)
	s.indexEntries(ctx, b, entries)

	return nil
}

// normalizeRows converts parsed rows into entries, preserving source order.
// A row without a title or external key becomes a row error, not an entry.
func (s *BatchService) normalizeRows(b *Batch, rows []ParsedRow, mapping ColumnMapping) ([]*Entry, []map[string]any) {
	var (
		entries   []*Entry
		rowErrors []map[string]any
	)
	for _, row := range rows {
		n := NormalizeRow(row, mapping)

		var missing []string
		if n.Title == "" {
			missing = append(missing, FieldTitle)
		}
		if n.ExternalKey == "" {
			missing = append(missing, FieldExternalKey)
		}
		if len(missing) > 0 {
			rowErrors = append(rowErrors, map[string]any{
				"row":            n.SourceRowNumber,
				"missing_fields": missing,
			})
			continue
		}

		entries = append(entries, &Entry{
			ID:              s.newID(),
			BatchID:         b.ID,
			OrganizationID:  b.OrganizationID,
			ProjectID:       b.ProjectID,
			ExternalKey:     n.ExternalKey,
			Title:           n.Title,
			Description:     n.Description,
			Steps:           n.Steps,
			ExpectedResult:  n.ExpectedResult,
			Priority:        n.Priority,
			TestType:        n.TestType,
			SourceRowNumber: n.SourceRowNumber,
			SourceRowHash:   HashRow(n),
			RawPayload:      n.Raw,
			Status:          EntryActive,
			CreatedAt:       time.Now().UTC(),
		})
	}
	return entries, rowErrors
}

// resolveWorkItems links entries to work items by external key. Keys with no
// matching work item leave the entry unlinked; that is not a row error.
func (s *BatchService) resolveWorkItems(ctx context.Context, b *Batch, entries []*Entry) error {
	if len(entries) == 0 || s.resolver == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(entries))
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ExternalKey]; ok {
			continue
		}
		seen[e.ExternalKey] = struct{}{}
		keys = append(keys, e.ExternalKey)
	}

	resolved, err := s.resolver.ResolveByExternalKeys(ctx, b.ProjectID, keys)
	if err != nil {
		return fmt.Errorf("resolving work items: %w", err)
	}

	for _, e := range entries {
		e.WorkItemID = resolved[e.ExternalKey]
	}
	return nil
}

// writeNormalizedArtifact stores the normalized entries as JSON next to the
// original upload. Failure here is logged but never fails the batch; the
// artifact is a convenience export, not source of truth.
func (s *BatchService) writeNormalizedArtifact(ctx context.Context, b *Batch, entries []*Entry) {
	payload, err := json.Marshal(entries)
	if err != nil {
		s.logger.Warn("encoding normalized artifact failed",
			slog.String("batch_id", b.ID), slog.Any("error", err))
		return
	}

	path := storage.NormalizedObjectPath(b.OrganizationID, b.ProjectID, b.ID)
	uri, err := s.blobs.Put(ctx, path, payload, "application/json")
	if err != nil {
		s.logger.Warn("storing normalized artifact failed",
			slog.String("batch_id", b.ID), slog.Any("error", err))
		return
	}
	b.NormalizedFileURI = uri
}

// indexEntries pushes entries into the similarity index and attaches vector
// metadata for the ones that made it. Failures are tallied in the batch's
// error details under indexing_errors.
func (s *BatchService) indexEntries(ctx context.Context, b *Batch, entries []*Entry) {
	if s.indexer == nil || len(entries) == 0 {
		return
	}

	var indexErrors []map[string]any
	for _, res := range s.indexer.IndexEntries(ctx, entries) {
		if res.Err != nil {
			indexErrors = append(indexErrors, map[string]any{
				"entry_id": res.EntryID,
				"error":    res.Err.Error(),
			})
			continue
		}
		if err := s.store.AttachVectorMetadata(ctx, res.EntryID, res.VectorID, res.EmbeddingModel); err != nil {
			s.logger.Warn("attaching vector metadata failed",
				slog.String("entry_id", res.EntryID), slog.Any("error", err))
		}
	}

	if len(indexErrors) > 0 {
		if b.ErrorDetails == nil {
			b.ErrorDetails = map[string]any{}
		}
		b.ErrorDetails["indexing_errors"] = indexErrors
		s.logger.Warn("some entries failed to index",
			slog.String("batch_id", b.ID),
			slog.Int("failed", len(indexErrors)))
	}
}

// failBatch records a fatal pipeline error and moves the batch to failed.
func (s *BatchService) failBatch(ctx context.Context, b *Batch, cause error) {
	now := time.Now().UTC()
	b.Status = BatchFailed
	b.CompletedAt = &now
	if b.ErrorDetails == nil {
		b.ErrorDetails = map[string]any{}
	}
	b.ErrorDetails["error"] = cause.Error()
	if pe, ok := cause.(*ProcessingError); ok {
		b.ErrorDetails["stage"] = pe.Stage
	}

	if err := s.store.UpdateBatch(ctx, b); err != nil {
		s.logger.Error("recording batch failure failed",
			slog.String("batch_id", b.ID), slog.Any("error", err))
	}

	s.logger.Error("knowledge batch failed",
		slog.String("batch_id", b.ID), slog.Any("error", cause))
}

// Get returns a batch by ID within a project.
func (s *BatchService) Get(ctx context.Context, projectID, batchID string) (*Batch, error) {
	return s.store.GetBatch(ctx, projectID, batchID)
}

// List returns a project's batches, newest first.
func (s *BatchService) List(ctx context.Context, projectID string, limit, offset int) ([]*Batch, error) {
	return s.store.ListBatches(ctx, projectID, limit, offset)
}

// ListEntries returns active entries for a project.
func (s *BatchService) ListEntries(ctx context.Context, projectID string, filter EntryFilter) ([]*Entry, error) {
	return s.store.ListEntries(ctx, projectID, filter)
}

// Delete soft-deletes a batch and its entries, then removes their vectors
// from the similarity index. Index cleanup failures are logged; the entries
// stay filtered out of search results by the relational status regardless.
func (s *BatchService) Delete(ctx context.Context, projectID, batchID string) error {
	entries, err := s.store.ListEntries(ctx, projectID, EntryFilter{BatchID: batchID, Limit: -1})
	if err != nil {
		return err
	}

	if err := s.store.SoftDeleteBatch(ctx, projectID, batchID); err != nil {
		return err
	}

	if s.indexer != nil {
		var vectorIDs []string
		for _, e := range entries {
			if e.VectorID != "" {
				vectorIDs = append(vectorIDs, e.VectorID)
			}
		}
		if len(vectorIDs) > 0 {
			if err := s.indexer.RemoveEntries(ctx, projectID, vectorIDs); err != nil {
				s.logger.Warn("removing vectors for deleted batch failed",
					slog.String("batch_id", batchID), slog.Any("error", err))
			}
		}
	}

	s.logger.Info("knowledge batch deleted", slog.String("batch_id", batchID))
	return nil
}

func (s *BatchService) extensionAllowed(ext string) bool {
	for _, allowed := range s.limits.AllowedExtensions {
		if normalizeExtension(allowed) == ext {
			return true
		}
	}
	return false
}

func contentTypeFor(fileType string) string {
	switch normalizeExtension(fileType) {
	case "csv":
		return "text/csv"
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
