package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/asmith81/MJM-Special-WOs/internal/auth"
	"github.com/asmith81/MJM-Special-WOs/internal/db"
	"github.com/asmith81/MJM-Special-WOs/internal/match"
	"github.com/asmith81/MJM-Special-WOs/internal/models"
	"github.com/asmith81/MJM-Special-WOs/internal/parser"
	"github.com/asmith81/MJM-Special-WOs/internal/repository"
	"github.com/asmith81/MJM-Special-WOs/internal/staging"
	"github.com/asmith81/MJM-Special-WOs/internal/storage"
)

const (
	MaxUploadSize = 10 * 1024 * 1024 // 10MB
	Version       = "1.0.0"
)

// Handler handles HTTP requests for the matching and documentation workflow
type Handler struct {
	config      *models.Config
	engine      *match.Engine
	coordinator *staging.Coordinator
	source      repository.Source

	mu          sync.Mutex
	session     *staging.Session
	lastResults []models.MatchResult
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, engine *match.Engine, coordinator *staging.Coordinator, source repository.Source) *Handler {
	return &Handler{
		config:      config,
		engine:      engine,
		coordinator: coordinator,
		source:      source,
		session:     staging.NewSession(),
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	// Authentication
	router.HandleFunc("/api/login", auth.LoginHandler).Methods("POST")

	// Matching
	router.HandleFunc("/api/match", h.RunMatch).Methods("POST")
	router.HandleFunc("/api/workorders", h.GetWorkOrders).Methods("GET")

	// Session staging
	router.HandleFunc("/api/session", h.ResetSession).Methods("POST")
	router.HandleFunc("/api/session/{client}/accept", h.AcceptMatch).Methods("POST")
	router.HandleFunc("/api/session/{client}/reject", h.RejectMatch).Methods("POST")
	router.HandleFunc("/api/session/{client}", h.GetAccepted).Methods("GET")
	router.HandleFunc("/api/session/{client}", h.ClearClient).Methods("DELETE")

	// Batch workflow
	router.HandleFunc("/api/batch/{client}/invoice", h.RequestInvoice).Methods("POST")
	router.HandleFunc("/api/batch/{client}/document", h.RecordDocument).Methods("POST")
	router.HandleFunc("/api/batch/{client}/finalize", h.FinalizeBatch).Methods("POST")
	router.HandleFunc("/api/batch/{client}/retry", h.RetryBatch).Methods("POST")
	router.HandleFunc("/api/batch/{client}/abandon", h.AbandonBatch).Methods("POST")
	router.HandleFunc("/api/batch/{client}", h.GetBatch).Methods("GET")

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	return router
}

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Memory    MemoryStats       `json:"memory"`
	Database  ServiceStatus     `json:"database"`
	Storage   ServiceStatus     `json:"storage"`
	Reasoner  map[string]string `json:"reasoner"`
}

// MemoryStats represents memory usage statistics
type MemoryStats struct {
	Allocated string `json:"allocated"`
	Total     string `json:"total"`
	System    string `json:"system"`
}

// ServiceStatus represents the status of a service dependency
type ServiceStatus struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health endpoint - enhanced for monitoring
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// Memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	databaseStatus := h.checkDatabase()
	storageStatus := h.checkStorage()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(startTime).String(),
		Memory: MemoryStats{
			Allocated: fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
			Total:     fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/1024/1024),
			System:    fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024),
		},
		Database: databaseStatus,
		Storage:  storageStatus,
		Reasoner: map[string]string{
			"defaultProvider": h.config.Reasoner.DefaultProvider,
		},
	}

	// The reasoner is advisory and storage retryable; only a missing record
	// store makes the service degraded.
	if !databaseStatus.Available {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

// checkDatabase verifies PostgreSQL connection
func (h *Handler) checkDatabase() ServiceStatus {
	if db.Pool == nil {
		return ServiceStatus{
			Available: false,
			Error:     "database pool not initialized",
		}
	}

	return ServiceStatus{
		Available: true,
		Version:   "PostgreSQL via PgBouncer",
	}
}

// checkStorage verifies MinIO connection
func (h *Handler) checkStorage() ServiceStatus {
	if storage.Client == nil {
		return ServiceStatus{
			Available: false,
			Error:     "storage client not initialized",
		}
	}

	return ServiceStatus{
		Available: true,
		Version:   "MinIO S3",
	}
}

// MatchRequest is the body of POST /api/match.
type MatchRequest struct {
	Text          string `json:"text"`
	ExpectedCount int    `json:"expectedCount"`
	IDPattern     string `json:"idPattern,omitempty"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
}

// buildFilter maps the optional request filters onto a repository filter.
// Absent dates stay zero-valued so the source skips the date clauses.
func buildFilter(req MatchRequest) (repository.Filter, error) {
	filter := repository.DefaultFilter()
	if req.IDPattern != "" {
		filter.IDPattern = req.IDPattern
	}
	if req.From != "" {
		t, err := time.Parse("2006-01-02", req.From)
		if err != nil {
			return filter, fmt.Errorf("invalid from date, want YYYY-MM-DD")
		}
		filter.From = t
	}
	if req.To != "" {
		t, err := time.Parse("2006-01-02", req.To)
		if err != nil {
			return filter, fmt.Errorf("invalid to date, want YYYY-MM-DD")
		}
		filter.To = t
	}
	return filter, nil
}

// RunMatch parses the pasted email text and returns reconciled match results.
func (h *Handler) RunMatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()

	if _, err := auth.GetClaimsFromContext(ctx); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	filter, err := buildFilter(req)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.engine.Run(ctx, req.Text, req.ExpectedCount, filter)
	if err != nil {
		if errors.Is(err, parser.ErrParse) {
			h.sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("matching failed: %v", err))
		return
	}

	h.mu.Lock()
	h.lastResults = result.Results
	h.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// GetWorkOrders returns the current snapshot of matchable work orders.
func (h *Handler) GetWorkOrders(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	if _, err := auth.GetClaimsFromContext(ctx); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	snap, err := repository.Take(ctx, h.source, repository.DefaultFilter())
	if err != nil && !errors.Is(err, repository.ErrNoCandidates) {
		h.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to load work orders: %v", err))
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    true,
		"workOrders": snap.All(),
		"count":      snap.Len(),
		"stats":      snap.Summary(),
		"takenAt":    snap.TakenAt,
	})
}

// ResetSession discards all staged state and starts a fresh session.
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.mu.Lock()
	h.session = staging.NewSession()
	h.lastResults = nil
	sessionID := h.session.ID
	h.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"sessionId": sessionID,
	})
}

// StageRequest identifies one result from the most recent match run.
type StageRequest struct {
	LineIndex int `json:"lineIndex"`
}

// currentSession returns the active staging ledger; ResetSession may swap it
// between requests.
func (h *Handler) currentSession() *staging.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

func (h *Handler) resultByLineIndex(lineIndex int) (models.MatchResult, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, res := range h.lastResults {
		if res.Item.LineIndex == lineIndex {
			return res, true
		}
	}
	return models.MatchResult{}, false
}

// AcceptMatch stages a matched result for the client's invoice batch.
func (h *Handler) AcceptMatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req StageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, ok := h.resultByLineIndex(req.LineIndex)
	if !ok {
		h.sendError(w, http.StatusNotFound, "no match result for line index")
		return
	}

	client := mux.Vars(r)["client"]
	if err := h.currentSession().Accept(client, result); err != nil {
		switch {
		case errors.Is(err, staging.ErrNotMatched):
			h.sendError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, staging.ErrAlreadyClaimed):
			h.sendError(w, http.StatusConflict, err.Error())
		default:
			h.sendError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"accepted": len(h.currentSession().Accepted(client)),
	})
}

// RejectMatch releases a previously accepted result.
func (h *Handler) RejectMatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req StageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, ok := h.resultByLineIndex(req.LineIndex)
	if !ok {
		h.sendError(w, http.StatusNotFound, "no match result for line index")
		return
	}

	client := mux.Vars(r)["client"]
	h.currentSession().Reject(client, result)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"accepted": len(h.currentSession().Accepted(client)),
	})
}

// GetAccepted lists the client's staged results.
func (h *Handler) GetAccepted(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	accepted := h.currentSession().Accepted(client)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"client":   client,
		"accepted": accepted,
		"count":    len(accepted),
	})
}

// ClearClient drops all staged state for the client.
func (h *Handler) ClearClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	h.currentSession().Clear(client)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "staged matches cleared",
	})
}

// RequestInvoice creates (or resumes) the client's batch and requests an
// invoice for it.
func (h *Handler) RequestInvoice(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	if _, err := auth.GetClaimsFromContext(ctx); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	batch, err := h.currentSession().BatchForInvoice(client)
	if err != nil {
		h.sendError(w, http.StatusConflict, err.Error())
		return
	}

	invoiceID, err := h.coordinator.RequestInvoice(ctx, batch)
	if err != nil {
		if errors.Is(err, staging.ErrInvalidTransition) {
			h.sendError(w, http.StatusConflict, err.Error())
			return
		}
		// Batch is now failed; the caller can retry or abandon.
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   false,
			"error":     err.Error(),
			"retryable": true,
			"batch":     batch,
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"invoiceId": invoiceID,
		"batch":     batch,
	})
}

// RecordDocument accepts the invoice PDF upload and advances the batch
// through documentation.
func (h *Handler) RecordDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	if _, err := auth.GetClaimsFromContext(ctx); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	batch, ok := h.currentSession().Batch(client)
	if !ok {
		h.sendError(w, http.StatusNotFound, "no active batch for client")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	if err := r.ParseMultipartForm(MaxUploadSize); err != nil {
		h.sendError(w, http.StatusBadRequest, "file too large or invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "no file provided (use 'file' field)")
		return
	}
	defer file.Close()

	link, err := h.coordinator.RecordDocument(ctx, batch, file, header.Size)
	if err != nil {
		if errors.Is(err, staging.ErrInvalidTransition) {
			h.sendError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   false,
			"error":     err.Error(),
			"retryable": true,
			"batch":     batch,
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":      true,
		"documentLink": link,
		"batch":        batch,
	})
}

// FinalizeBatch retries the record-store write for a documented batch.
func (h *Handler) FinalizeBatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ctx := r.Context()
	if _, err := auth.GetClaimsFromContext(ctx); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	batch, ok := h.currentSession().Batch(client)
	if !ok {
		h.sendError(w, http.StatusNotFound, "no active batch for client")
		return
	}

	if err := h.coordinator.Finalize(ctx, batch); err != nil {
		if errors.Is(err, staging.ErrInvalidTransition) {
			h.sendError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"success":   false,
			"error":     err.Error(),
			"retryable": true,
			"batch":     batch,
		})
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"batch":   batch,
	})
}

// RetryBatch resets a failed batch so the workflow can run again.
func (h *Handler) RetryBatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	batch, ok := h.currentSession().Batch(client)
	if !ok {
		h.sendError(w, http.StatusNotFound, "no active batch for client")
		return
	}

	if err := h.coordinator.Retry(batch); err != nil {
		h.sendError(w, http.StatusConflict, err.Error())
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"batch":   batch,
	})
}

// AbandonBatch terminally discards a failed batch.
func (h *Handler) AbandonBatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	batch, ok := h.currentSession().Batch(client)
	if !ok {
		h.sendError(w, http.StatusNotFound, "no active batch for client")
		return
	}

	if err := h.coordinator.Abandon(batch); err != nil {
		h.sendError(w, http.StatusConflict, err.Error())
		return
	}
	h.currentSession().DiscardBatch(client)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"batch":   batch,
	})
}

// GetBatch returns the client's active batch state.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if _, err := auth.GetClaimsFromContext(r.Context()); err != nil {
		h.sendError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client := mux.Vars(r)["client"]
	batch, ok := h.currentSession().Batch(client)
	if !ok {
		h.sendError(w, http.StatusNotFound, "no active batch for client")
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"batch":   batch,
	})
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
