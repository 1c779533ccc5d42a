package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"

	"github.com/ledgerlens/invoice-service/internal/auth"
	"github.com/ledgerlens/invoice-service/internal/db"
	"github.com/ledgerlens/invoice-service/internal/logging"
	"github.com/ledgerlens/invoice-service/internal/metrics"
	"github.com/ledgerlens/invoice-service/internal/models"
	"github.com/ledgerlens/invoice-service/internal/services"
	"github.com/ledgerlens/invoice-service/internal/storage"
)

const (
	MaxEditBodySize = 100 * 1024 // 100kB
	Version         = "1.0.0"
)

// BatchProcessor runs the ingestion pipeline over staged uploads
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, uploads []services.Upload) []services.FileResult
}

// Uploads stages multipart files on disk
type Uploads interface {
	Save(fh *multipart.FileHeader) (storage.StagedFile, error)
	Remove(path string) error
}

// Archive resolves and removes archived originals
type Archive interface {
	PresignedURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators a Handler serves requests with.
// Archive, Auth and Metrics are optional.
type Dependencies struct {
	Store    db.Store
	Ingestor BatchProcessor
	Uploads  Uploads
	Archive  Archive
	Auth     *auth.Authenticator
	Metrics  *metrics.Metrics
	Provider string
}

// Handler handles HTTP requests for invoice processing
type Handler struct {
	config *models.Config
	deps   Dependencies
}

// NewHandler creates a new API handler
func NewHandler(config *models.Config, deps Dependencies) *Handler {
	return &Handler{
		config: config,
		deps:   deps,
	}
}

// SetupRoutes configures the HTTP routes
func (h *Handler) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.accessLogMiddleware)

	// Ingestion
	router.HandleFunc("/api/process-invoices", h.ProcessInvoices).Methods("POST")

	// Listing and summaries
	router.HandleFunc("/api/invoices", h.GetInvoices).Methods("GET")
	router.HandleFunc("/api/invoice/summaries", h.GetSummaries).Methods("GET")

	// Invoice CRUD
	router.HandleFunc("/api/invoice/{id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/api/invoice/{id}", h.UpdateInvoice).Methods("PUT")
	router.HandleFunc("/api/invoice/{id}", h.DeleteInvoice).Methods("DELETE")

	// Service endpoints
	router.HandleFunc("/", h.Root).Methods("GET")
	router.HandleFunc("/health", h.Health).Methods("GET")
	router.Handle("/metrics", h.deps.Metrics.Handler()).Methods("GET")

	router.NotFoundHandler = h.accessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.sendError(w, http.StatusNotFound, "route not found")
	}))
	router.MethodNotAllowedHandler = h.accessLogMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))

	return router
}

// Routes wraps the router with request ids, CORS and, when enabled, bearer
// token auth. Preflight requests are answered before routing.
func (h *Handler) Routes() http.Handler {
	var handler http.Handler = h.SetupRoutes()
	if h.deps.Auth != nil {
		handler = h.deps.Auth.Middleware(h.sendError)(handler)
	}
	handler = h.corsMiddleware(handler)
	return requestIDMiddleware(handler)
}

// Root answers liveness probes
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":  http.StatusOK,
		"message": "ok",
	})
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
	AI        map[string]string `json:"ai"`
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
	Error     string `json:"error,omitempty"`
}

var startTime = time.Now()

// Health reports the state of the store, the archive and the AI provider
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	databaseStatus := h.checkDatabase(ctx)
	storageStatus := h.checkStorage(ctx)

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
		AI: map[string]string{
			"defaultProvider": h.config.AI.DefaultProvider,
			"activeProvider":  h.deps.Provider,
		},
	}

	// The archive is optional; only the store is critical
	status := http.StatusOK
	if !databaseStatus.Available {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	h.sendJSON(w, status, response)
}

func (h *Handler) checkDatabase(ctx context.Context) ServiceStatus {
	if h.deps.Store == nil {
		return ServiceStatus{Available: false, Error: "store not initialized"}
	}
	if err := h.deps.Store.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true}
}

func (h *Handler) checkStorage(ctx context.Context) ServiceStatus {
	if h.deps.Archive == nil {
		return ServiceStatus{Available: false, Error: "storage not configured"}
	}
	if err := h.deps.Archive.Ping(ctx); err != nil {
		return ServiceStatus{Available: false, Error: err.Error()}
	}
	return ServiceStatus{Available: true}
}

// sendJSON writes a JSON response with the given status
func (h *Handler) sendJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.LogError("api", "sendJSON", "encode response", nil, err)
	}
}

// sendError sends an error response
func (h *Handler) sendError(w http.ResponseWriter, statusCode int, message string) {
	h.sendJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// sendStoreError maps store errors onto status codes
func (h *Handler) sendStoreError(w http.ResponseWriter, funcName, message string, err error) {
	switch {
	case errors.Is(err, models.ErrInvoiceNotFound):
		h.sendError(w, http.StatusNotFound, "Invoice not found")
	case errors.Is(err, models.ErrInvalidInput):
		h.sendJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Invalid invoice update",
			"details": err.Error(),
		})
	case errors.Is(err, models.ErrDuplicateInvoice):
		h.sendJSON(w, http.StatusConflict, map[string]string{
			"error":   "Invoice duplicates an existing invoice",
			"details": err.Error(),
		})
	default:
		logging.LogError("api", funcName, message, nil, err)
		h.sendJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   message,
			"details": err.Error(),
		})
	}
}
