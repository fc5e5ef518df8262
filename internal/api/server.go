// Package api is the JSON HTTP surface: batch ingestion, knowledge entry
// queries, test case generation and LLM provider management.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger         *slog.Logger
	Batches        BatchService    // Required
	Generator      GenerateService // Required
	Cases          CaseLister      // Required
	LLM            LLMService      // Required
	Pool           *pgxpool.Pool   // Optional: nil disables pool stats in /ready
	CORSOrigins    []string        // Allowed origins for CORS
	TrustProxy     bool            // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst      int             // Rate limiter burst size per IP (0 = default 60)
	MaxUploadBytes int64           // Upload body limit (0 = default 10 MiB)
}

// Server is the JSON API HTTP server.
type Server struct {
	mux *http.ServeMux
}

// NewServer creates a new API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Batches == nil {
		return nil, errors.New("batch service is required")
	}
	if cfg.Generator == nil || cfg.Cases == nil {
		return nil, errors.New("generate service is required")
	}
	if cfg.LLM == nil {
		return nil, errors.New("llm service is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}

	bh := &batchHandler{
		service:        cfg.Batches,
		maxUploadBytes: maxUpload,
		logger:         logger,
	}
	gh := &generateHandler{
		service: cfg.Generator,
		cases:   cfg.Cases,
		llm:     cfg.LLM,
		logger:  logger,
	}

	mux := http.NewServeMux()

	// Batch ingestion lifecycle
	mux.HandleFunc("POST /api/v1/projects/{projectID}/knowledge-batches", bh.create)
	mux.HandleFunc("GET /api/v1/projects/{projectID}/knowledge-batches", bh.list)
	mux.HandleFunc("GET /api/v1/projects/{projectID}/knowledge-batches/{batchID}", bh.get)
	mux.HandleFunc("PUT /api/v1/projects/{projectID}/knowledge-batches/{batchID}/file", bh.uploadFile)
	mux.HandleFunc("POST /api/v1/projects/{projectID}/knowledge-batches/{batchID}/process", bh.process)
	mux.HandleFunc("DELETE /api/v1/projects/{projectID}/knowledge-batches/{batchID}", bh.delete)

	// Normalized knowledge entries
	mux.HandleFunc("GET /api/v1/projects/{projectID}/knowledge-entries", bh.listEntries)

	// Test case generation
	mux.HandleFunc("POST /api/v1/projects/{projectID}/work-items/{itemID}/generate", gh.forWorkItem)
	mux.HandleFunc("POST /api/v1/projects/{projectID}/work-items/{itemID}/generate-children", gh.forChildren)
	mux.HandleFunc("GET /api/v1/projects/{projectID}/work-items/{itemID}/test-cases", gh.listCases)

	// LLM provider management
	mux.HandleFunc("GET /api/v1/providers", gh.listProviders)
	mux.HandleFunc("POST /api/v1/credentials/verify", gh.verifyCredential)

	// Rate limiter: per-IP token bucket (1 token/sec refill)
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Build middleware stack (outermost first):
	//   Recovery → RequestID → Logging → CORS → RateLimit → Routes
	// RequestID sits before Logging so request_id is available in log attributes.
	// CORS sits before RateLimit so preflight OPTIONS gets proper CORS headers.
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		handler.ServeHTTP(w, r)
	})

	// Top-level mux keeps health probes outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool))
	topMux.Handle("/", final)

	return &Server{mux: topMux}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}
