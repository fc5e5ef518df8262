package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the store needs. Declared here so tests
// can substitute a lightweight fake without a running database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists batches and entries in PostgreSQL.
type Store struct {
	db DB
}

func NewStore(db DB) *Store {
	return &Store{db: db}
}

const batchColumns = `id, organization_id, project_id, uploaded_by,
	file_name, file_type, file_size_bytes, original_file_uri, normalized_file_uri,
	status, row_count, processed_count, error_count, error_details, column_mapping,
	checksum, started_at, completed_at, created_at, updated_at`

// CreateBatch inserts a new batch record. The caller is responsible for
// assigning the ID and initial status.
func (s *Store) CreateBatch(ctx context.Context, b *Batch) error {
	errDetails, err := marshalJSONB(b.ErrorDetails)
	if err != nil {
		return fmt.Errorf("encoding error details: %w", err)
	}
	mapping, err := marshalJSONB(b.ColumnMapping)
	if err != nil {
		return fmt.Errorf("encoding column mapping: %w", err)
	}

	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now

	_, err = s.db.Exec(ctx, `
		INSERT INTO knowledge_batches (
			id, organization_id, project_id, uploaded_by,
			file_name, file_type, file_size_bytes, original_file_uri, normalized_file_uri,
			status, row_count, processed_count, error_count, error_details, column_mapping,
			checksum, started_at, completed_at, created_at, updated_at
		) VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,NULLIF($9,''),$10,$11,$12,$13,$14,$15,NULLIF($16,''),$17,$18,$19,$20)`,
		b.ID, b.OrganizationID, b.ProjectID, b.UploadedBy,
		b.FileName, b.FileType, b.FileSizeBytes, b.OriginalFileURI, b.NormalizedFileURI,
		string(b.Status), b.RowCount, b.ProcessedCount, b.ErrorCount, errDetails, mapping,
		b.Checksum, b.StartedAt, b.CompletedAt, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting batch: %w", err)
	}
	return nil
}

// GetBatch fetches a batch by ID scoped to a project. Soft-deleted batches
// are still returned; callers decide whether deleted is acceptable.
func (s *Store) GetBatch(ctx context.Context, projectID, batchID string) (*Batch, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM knowledge_batches WHERE id = $1 AND project_id = $2`,
		batchID, projectID)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching batch %s: %w", batchID, err)
	}
	return b, nil
}

// ListBatches returns a project's batches, newest first. Soft-deleted
// batches are excluded.
func (s *Store) ListBatches(ctx context.Context, projectID string, limit, offset int) ([]*Batch, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+batchColumns+` FROM knowledge_batches
		 WHERE project_id = $1 AND status <> 'deleted'
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		projectID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing batches: %w", err)
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// UpdateBatch writes back the mutable lifecycle fields of a batch.
func (s *Store) UpdateBatch(ctx context.Context, b *Batch) error {
	errDetails, err := marshalJSONB(b.ErrorDetails)
	if err != nil {
		return fmt.Errorf("encoding error details: %w", err)
	}
	mapping, err := marshalJSONB(b.ColumnMapping)
	if err != nil {
		return fmt.Errorf("encoding column mapping: %w", err)
	}

	b.UpdatedAt = time.Now().UTC()

	tag, err := s.db.Exec(ctx, `
		UPDATE knowledge_batches SET
			original_file_uri = $2, normalized_file_uri = NULLIF($3,''),
			status = $4, row_count = $5, processed_count = $6, error_count = $7,
			error_details = $8, column_mapping = $9, checksum = NULLIF($10,''),
			file_size_bytes = $11, started_at = $12, completed_at = $13, updated_at = $14
		WHERE id = $1`,
		b.ID, b.OriginalFileURI, b.NormalizedFileURI,
		string(b.Status), b.RowCount, b.ProcessedCount, b.ErrorCount,
		errDetails, mapping, b.Checksum,
		b.FileSizeBytes, b.StartedAt, b.CompletedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating batch %s: %w", b.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// SoftDeleteBatch marks a batch and all of its entries deleted. Rows remain
// in place for audit; the similarity index is cleaned up by the caller.
func (s *Store) SoftDeleteBatch(ctx context.Context, projectID, batchID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE knowledge_batches SET status = 'deleted', updated_at = now()
		 WHERE id = $1 AND project_id = $2 AND status <> 'deleted'`,
		batchID, projectID)
	if err != nil {
		return fmt.Errorf("deleting batch %s: %w", batchID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE knowledge_entries SET status = 'deleted', updated_at = now() WHERE batch_id = $1`,
		batchID); err != nil {
		return fmt.Errorf("deleting entries of batch %s: %w", batchID, err)
	}

	return tx.Commit(ctx)
}

// InsertEntries persists all entries of a processed batch in one transaction.
// Either every row lands or none do; a half-ingested batch is never visible.
func (s *Store) InsertEntries(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		steps, err := marshalJSONB(e.Steps)
		if err != nil {
			return fmt.Errorf("encoding steps for row %d: %w", e.SourceRowNumber, err)
		}
		tags, err := marshalJSONB(e.Tags)
		if err != nil {
			return fmt.Errorf("encoding tags for row %d: %w", e.SourceRowNumber, err)
		}
		raw, err := marshalJSONB(e.RawPayload)
		if err != nil {
			return fmt.Errorf("encoding raw payload for row %d: %w", e.SourceRowNumber, err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO knowledge_entries (
				id, batch_id, organization_id, project_id, work_item_id,
				external_key, title, description, steps, expected_result,
				priority, test_type, tags, source_row_number, source_row_hash,
				raw_payload, vector_id, embedding_model, status, created_at
			) VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,NULLIF($17,''),NULLIF($18,''),$19,$20)`,
			e.ID, e.BatchID, e.OrganizationID, e.ProjectID, e.WorkItemID,
			e.ExternalKey, e.Title, e.Description, steps, e.ExpectedResult,
			e.Priority, e.TestType, tags, e.SourceRowNumber, e.SourceRowHash,
			raw, e.VectorID, e.EmbeddingModel, string(e.Status), e.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting entry for row %d: %w", e.SourceRowNumber, err)
		}
	}

	return tx.Commit(ctx)
}

// ListEntries returns active entries for a project, filtered and ordered by
// source row number within each batch.
func (s *Store) ListEntries(ctx context.Context, projectID string, filter EntryFilter) ([]*Entry, error) {
	query := `
		SELECT id, batch_id, organization_id, project_id, COALESCE(work_item_id::text, ''),
		       COALESCE(external_key, ''), title, COALESCE(description, ''), steps,
		       COALESCE(expected_result, ''), COALESCE(priority, ''), COALESCE(test_type, ''),
		       tags, source_row_number, COALESCE(source_row_hash, ''), raw_payload,
		       COALESCE(vector_id, ''), COALESCE(embedding_model, ''), status, created_at
		FROM knowledge_entries
		WHERE project_id = $1 AND status = 'active'`
	args := []any{projectID}

	if filter.ExternalKey != "" {
		args = append(args, filter.ExternalKey)
		query += fmt.Sprintf(" AND external_key = $%d", len(args))
	}
	if filter.WorkItemID != "" {
		args = append(args, filter.WorkItemID)
		query += fmt.Sprintf(" AND work_item_id = $%d", len(args))
	}
	if filter.BatchID != "" {
		args = append(args, filter.BatchID)
		query += fmt.Sprintf(" AND batch_id = $%d", len(args))
	}

	query += " ORDER BY batch_id, source_row_number"

	// A negative limit means unbounded; zero gets the default page size.
	limit := filter.Limit
	if limit == 0 {
		limit = 200
	}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// GetEntries fetches entries by ID within a project, preserving the order of
// the requested IDs. Missing IDs are silently skipped.
func (s *Store) GetEntries(ctx context.Context, projectID string, ids []string) ([]*Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, batch_id, organization_id, project_id, COALESCE(work_item_id::text, ''),
		       COALESCE(external_key, ''), title, COALESCE(description, ''), steps,
		       COALESCE(expected_result, ''), COALESCE(priority, ''), COALESCE(test_type, ''),
		       tags, source_row_number, COALESCE(source_row_hash, ''), raw_payload,
		       COALESCE(vector_id, ''), COALESCE(embedding_model, ''), status, created_at
		FROM knowledge_entries
		WHERE project_id = $1 AND id = ANY($2) AND status = 'active'`,
		projectID, ids)
	if err != nil {
		return nil, fmt.Errorf("fetching entries: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Entry, len(ids))
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		byID[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ordered := make([]*Entry, 0, len(byID))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			ordered = append(ordered, e)
		}
	}
	return ordered, nil
}

// AttachVectorMetadata records a successful indexing outcome on an entry.
func (s *Store) AttachVectorMetadata(ctx context.Context, entryID, vectorID, embeddingModel string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE knowledge_entries SET vector_id = $2, embedding_model = $3, updated_at = now() WHERE id = $1`,
		entryID, vectorID, embeddingModel)
	if err != nil {
		return fmt.Errorf("attaching vector metadata to entry %s: %w", entryID, err)
	}
	return nil
}

func scanBatch(row pgx.Row) (*Batch, error) {
	var (
		b          Batch
		uploadedBy *string
		normURI    *string
		checksum   *string
		sizeBytes  *int64
		status     string
		errDetails []byte
		mapping    []byte
	)
	if err := row.Scan(
		&b.ID, &b.OrganizationID, &b.ProjectID, &uploadedBy,
		&b.FileName, &b.FileType, &sizeBytes, &b.OriginalFileURI, &normURI,
		&status, &b.RowCount, &b.ProcessedCount, &b.ErrorCount, &errDetails, &mapping,
		&checksum, &b.StartedAt, &b.CompletedAt, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}

	b.Status = BatchStatus(status)
	if uploadedBy != nil {
		b.UploadedBy = *uploadedBy
	}
	if normURI != nil {
		b.NormalizedFileURI = *normURI
	}
	if checksum != nil {
		b.Checksum = *checksum
	}
	if sizeBytes != nil {
		b.FileSizeBytes = *sizeBytes
	}
	if len(errDetails) > 0 {
		if err := json.Unmarshal(errDetails, &b.ErrorDetails); err != nil {
			return nil, fmt.Errorf("decoding error details: %w", err)
		}
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &b.ColumnMapping); err != nil {
			return nil, fmt.Errorf("decoding column mapping: %w", err)
		}
	}
	return &b, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e      Entry
		status string
		steps  []byte
		tags   []byte
		raw    []byte
	)
	if err := row.Scan(
		&e.ID, &e.BatchID, &e.OrganizationID, &e.ProjectID, &e.WorkItemID,
		&e.ExternalKey, &e.Title, &e.Description, &steps,
		&e.ExpectedResult, &e.Priority, &e.TestType,
		&tags, &e.SourceRowNumber, &e.SourceRowHash, &raw,
		&e.VectorID, &e.EmbeddingModel, &status, &e.CreatedAt,
	); err != nil {
		return nil, err
	}

	e.Status = EntryStatus(status)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &e.Steps); err != nil {
			return nil, fmt.Errorf("decoding steps: %w", err)
		}
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &e.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags: %w", err)
		}
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &e.RawPayload); err != nil {
			return nil, fmt.Errorf("decoding raw payload: %w", err)
		}
	}
	return &e, nil
}

// marshalJSONB encodes a value for a jsonb column, mapping nil to SQL NULL.
func marshalJSONB(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	case ColumnMapping:
		if val == nil {
			return nil, nil
		}
	case []Step:
		if val == nil {
			return nil, nil
		}
	case []string:
		if val == nil {
			return nil, nil
		}
	case map[string]string:
		if val == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}
