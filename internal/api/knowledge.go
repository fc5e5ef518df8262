package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/caseforge/caseforge/internal/knowledge"
)

// BatchService is the knowledge batch surface the handlers need.
// *knowledge.BatchService satisfies it.
type BatchService interface {
	Create(ctx context.Context, in knowledge.CreateBatchInput) (*knowledge.Batch, error)
	UploadOriginal(ctx context.Context, projectID, batchID string, data []byte) (*knowledge.Batch, error)
	Process(ctx context.Context, projectID, batchID string) (*knowledge.Batch, error)
	Get(ctx context.Context, projectID, batchID string) (*knowledge.Batch, error)
	List(ctx context.Context, projectID string, limit, offset int) ([]*knowledge.Batch, error)
	ListEntries(ctx context.Context, projectID string, filter knowledge.EntryFilter) ([]*knowledge.Entry, error)
	Delete(ctx context.Context, projectID, batchID string) error
}

type batchHandler struct {
	service        BatchService
	maxUploadBytes int64
	logger         *slog.Logger
}

type batchResponse struct {
	ID                string            `json:"id"`
	OrganizationID    string            `json:"organization_id"`
	ProjectID         string            `json:"project_id"`
	UploadedBy        string            `json:"uploaded_by,omitempty"`
	FileName          string            `json:"file_name"`
	FileType          string            `json:"file_type"`
	FileSizeBytes     int64             `json:"file_size_bytes"`
	OriginalFileURI   string            `json:"original_file_uri,omitempty"`
	NormalizedFileURI string            `json:"normalized_file_uri,omitempty"`
	Status            string            `json:"status"`
	RowCount          int               `json:"row_count"`
	ProcessedCount    int               `json:"processed_count"`
	ErrorCount        int               `json:"error_count"`
	ErrorDetails      map[string]any    `json:"error_details,omitempty"`
	ColumnMapping     map[string]string `json:"column_mapping,omitempty"`
	Checksum          string            `json:"checksum,omitempty"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toBatchResponse(b *knowledge.Batch) batchResponse {
	return batchResponse{
		ID:                b.ID,
		OrganizationID:    b.OrganizationID,
		ProjectID:         b.ProjectID,
		UploadedBy:        b.UploadedBy,
		FileName:          b.FileName,
		FileType:          b.FileType,
		FileSizeBytes:     b.FileSizeBytes,
		OriginalFileURI:   b.OriginalFileURI,
		NormalizedFileURI: b.NormalizedFileURI,
		Status:            string(b.Status),
		RowCount:          b.RowCount,
		ProcessedCount:    b.ProcessedCount,
		ErrorCount:        b.ErrorCount,
		ErrorDetails:      b.ErrorDetails,
		ColumnMapping:     b.ColumnMapping,
		Checksum:          b.Checksum,
		StartedAt:         b.StartedAt,
		CompletedAt:       b.CompletedAt,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

type createBatchRequest struct {
	OrganizationID string `json:"organization_id"`
	UploadedBy     string `json:"uploaded_by"`
	FileName       string `json:"file_name"`
	FileType       string `json:"file_type"`
	FileSizeBytes  int64  `json:"file_size_bytes"`
}

func (h *batchHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	if req.FileName == "" || req.FileType == "" {
		WriteError(w, http.StatusBadRequest, "missing_fields", "file_name and file_type are required", h.logger)
		return
	}

	b, err := h.service.Create(r.Context(), knowledge.CreateBatchInput{
		OrganizationID: req.OrganizationID,
		ProjectID:      r.PathValue("projectID"),
		UploadedBy:     req.UploadedBy,
		FileName:       req.FileName,
		FileType:       req.FileType,
		FileSizeBytes:  req.FileSizeBytes,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toBatchResponse(b))
}

func (h *batchHandler) uploadFile(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, h.maxUploadBytes+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "read_failed", "failed to read upload", h.logger)
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "upload exceeds the size limit", h.logger)
		return
	}
	if len(data) == 0 {
		WriteError(w, http.StatusBadRequest, "empty_file", "upload body is empty", h.logger)
		return
	}

	b, err := h.service.UploadOriginal(r.Context(), r.PathValue("projectID"), r.PathValue("batchID"), data)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toBatchResponse(b))
}

func (h *batchHandler) process(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Process(r.Context(), r.PathValue("projectID"), r.PathValue("batchID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toBatchResponse(b))
}

func (h *batchHandler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), r.PathValue("projectID"), r.PathValue("batchID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, toBatchResponse(b))
}

func (h *batchHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	batches, err := h.service.List(r.Context(), r.PathValue("projectID"), limit, offset)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchResponse(b))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"batches": out})
}

func (h *batchHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), r.PathValue("projectID"), r.PathValue("batchID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type entryResponse struct {
	ID              string           `json:"id"`
	BatchID         string           `json:"batch_id"`
	WorkItemID      string           `json:"work_item_id,omitempty"`
	ExternalKey     string           `json:"external_key"`
	Title           string           `json:"title"`
	Description     string           `json:"description,omitempty"`
	Steps           []knowledge.Step `json:"steps,omitempty"`
	ExpectedResult  string           `json:"expected_result,omitempty"`
	Priority        string           `json:"priority,omitempty"`
	TestType        string           `json:"test_type,omitempty"`
	SourceRowNumber int              `json:"source_row_number"`
	SourceRowHash   string           `json:"source_row_hash,omitempty"`
	VectorID        string           `json:"vector_id,omitempty"`
	EmbeddingModel  string           `json:"embedding_model,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (h *batchHandler) listEntries(w http.ResponseWriter, r *http.Request) {
	filter := knowledge.EntryFilter{
		ExternalKey: r.URL.Query().Get("external_key"),
		WorkItemID:  r.URL.Query().Get("work_item_id"),
		BatchID:     r.URL.Query().Get("batch_id"),
		Limit:       queryInt(r, "limit", 0),
	}

	entries, err := h.service.ListEntries(r.Context(), r.PathValue("projectID"), filter)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:              e.ID,
			BatchID:         e.BatchID,
			WorkItemID:      e.WorkItemID,
			ExternalKey:     e.ExternalKey,
			Title:           e.Title,
			Description:     e.Description,
			Steps:           e.Steps,
			ExpectedResult:  e.ExpectedResult,
			Priority:        e.Priority,
			TestType:        e.TestType,
			SourceRowNumber: e.SourceRowNumber,
			SourceRowHash:   e.SourceRowHash,
			VectorID:        e.VectorID,
			EmbeddingModel:  e.EmbeddingModel,
			CreatedAt:       e.CreatedAt,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *batchHandler) writeServiceError(w http.ResponseWriter, err error) {
	var missingErr *knowledge.MissingColumnsError
	switch {
	case errors.Is(err, knowledge.ErrBatchNotFound):
		WriteError(w, http.StatusNotFound, "batch_not_found", "knowledge batch not found", h.logger)
	case errors.Is(err, knowledge.ErrBatchNotProcessable):
		WriteError(w, http.StatusConflict, "batch_not_processable", err.Error(), h.logger)
	case errors.Is(err, knowledge.ErrUnsupportedFormat):
		WriteError(w, http.StatusBadRequest, "unsupported_format", err.Error(), h.logger)
	case errors.As(err, &missingErr):
		WriteError(w, http.StatusBadRequest, "missing_columns", missingErr.Error(), h.logger)
	default:
		h.logger.Error("batch operation failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
