package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/caseforge/caseforge/internal/generate"
	"github.com/caseforge/caseforge/internal/llm"
	"github.com/caseforge/caseforge/internal/workitem"
)

// GenerateService runs test case generation. *generate.Generator satisfies it.
type GenerateService interface {
	ForWorkItem(ctx context.Context, in generate.Input) (*generate.Result, error)
	ForChildren(ctx context.Context, in generate.BulkInput) (*generate.BulkReport, error)
}

// CaseLister reads previously generated cases. *generate.Store satisfies it.
type CaseLister interface {
	ListByWorkItem(ctx context.Context, workItemID string) ([]*generate.Case, error)
}

// LLMService exposes provider metadata and credential checks. *llm.Gateway
// satisfies it.
type LLMService interface {
	Providers() []llm.ProviderInfo
	VerifyCredential(ctx context.Context, provider, apiKey string) (string, error)
}

type generateHandler struct {
	service GenerateService
	cases   CaseLister
	llm     LLMService
	logger  *slog.Logger
}

type generateRequest struct {
	Provider  string `json:"provider"`
	APIKey    string `json:"api_key"`
	Count     int    `json:"count"`
	CreatedBy string `json:"created_by"`
}

func (h *generateHandler) decodeRequest(w http.ResponseWriter, r *http.Request) (generateRequest, bool) {
	var req generateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
			return req, false
		}
	}
	return req, true
}

func (h *generateHandler) forWorkItem(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	result, err := h.service.ForWorkItem(r.Context(), generate.Input{
		ProjectID:  r.PathValue("projectID"),
		WorkItemID: r.PathValue("itemID"),
		CreatedBy:  req.CreatedBy,
		Count:      req.Count,
		Credential: llm.Credential{Provider: req.Provider, APIKey: req.APIKey},
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (h *generateHandler) forChildren(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeRequest(w, r)
	if !ok {
		return
	}

	report, err := h.service.ForChildren(r.Context(), generate.BulkInput{
		ProjectID:  r.PathValue("projectID"),
		ParentID:   r.PathValue("itemID"),
		CreatedBy:  req.CreatedBy,
		Count:      req.Count,
		Credential: llm.Credential{Provider: req.Provider, APIKey: req.APIKey},
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}

func (h *generateHandler) listCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.cases.ListByWorkItem(r.Context(), r.PathValue("itemID"))
	if err != nil {
		h.logger.Error("listing cases failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal server error", h.logger)
		return
	}
	if cases == nil {
		cases = []*generate.Case{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"test_cases": cases})
}

func (h *generateHandler) listProviders(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"providers": h.llm.Providers()})
}

type verifyCredentialRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}

func (h *generateHandler) verifyCredential(w http.ResponseWriter, r *http.Request) {
	var req verifyCredentialRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	model, err := h.llm.VerifyCredential(r.Context(), req.Provider, req.APIKey)
	if err != nil {
		// Verification failure is a client outcome, not a server error.
		WriteJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"valid": true, "model": model})
}

func (h *generateHandler) writeServiceError(w http.ResponseWriter, err error) {
	var parseErr *generate.ParseError
	switch {
	case errors.Is(err, workitem.ErrNotFound):
		WriteError(w, http.StatusNotFound, "work_item_not_found", "work item not found", h.logger)
	case errors.As(err, &parseErr):
		WriteError(w, http.StatusBadGateway, "unparseable_output", "model returned unparseable output", h.logger)
	case errors.Is(err, llm.ErrUnknownProvider):
		WriteError(w, http.StatusBadRequest, "unknown_provider", err.Error(), h.logger)
	case errors.Is(err, llm.ErrNoCredential):
		WriteError(w, http.StatusBadRequest, "no_credential", err.Error(), h.logger)
	default:
		h.logger.Error("generation failed", "error", err)
		WriteError(w, http.StatusBadGateway, "generation_failed", "test case generation failed", h.logger)
	}
}
