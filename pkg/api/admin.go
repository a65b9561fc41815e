package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ngoyal88/mimasaka/pkg/requestmsg"
	"github.com/ngoyal88/mimasaka/pkg/schema"
	"github.com/ngoyal88/mimasaka/pkg/storage"
)

// maxPayloadBytes caps inbound request bodies.
const maxPayloadBytes = 1 << 20

// AdminAPI provides the mock admin endpoints
type AdminAPI struct {
	messages *requestmsg.Manager
	store    storage.Store
	prefix   string
	logger   *slog.Logger
}

// NewAdminAPI creates a new admin API handler. prefix is the mount point of
// every route, e.g. "/__admin__".
func NewAdminAPI(messages *requestmsg.Manager, store storage.Store, prefix string, logger *slog.Logger) *AdminAPI {
	return &AdminAPI{
		messages: messages,
		store:    store,
		prefix:   strings.TrimSuffix(prefix, "/"),
		logger:   logger.With("component", "admin-api"),
	}
}

// RegisterRoutes registers admin endpoints
func (api *AdminAPI) RegisterRoutes(mux *http.ServeMux) {
	p := api.prefix

	// Request messages
	mux.HandleFunc("POST "+p+"/request", api.handleCreate)
	mux.HandleFunc("GET "+p+"/request/{id}", api.handleGet)
	mux.HandleFunc("PUT "+p+"/request/{id}", api.handleReplace)
	mux.HandleFunc("PATCH "+p+"/request/{id}", api.handlePatch)
	mux.HandleFunc("DELETE "+p+"/request/{id}", api.handleDelete)

	// System
	mux.HandleFunc("GET "+p+"/health", api.handleHealth)
}

// readPayload decodes the JSON object body of r. Non-JSON content types and
// anything that isn't a single object come back as schema violations.
func readPayload(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	if !isJSON(r.Header.Get("Content-Type")) {
		return nil, schema.InvalidInput()
	}
	return schema.Decode(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" ||
		(strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+json"))
}

// respondError writes the response for an error returned by readPayload or
// the request message manager. notFoundBody is what a missing record renders as.
func (api *AdminAPI) respondError(w http.ResponseWriter, r *http.Request, op string, err error, notFoundBody any) {
	var violations schema.Violations
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &violations):
		observe(op, outcomeInvalid)
		respondJSON(w, http.StatusBadRequest, violations)
	case errors.Is(err, storage.ErrNotFound):
		observe(op, outcomeNotFound)
		respondJSON(w, http.StatusNotFound, notFoundBody)
	case errors.As(err, &tooLarge):
		observe(op, outcomeInvalid)
		respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
			"error": "Request Entity Too Large",
		})
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		observe(op, outcomeUnavailable)
		api.logger.Warn("storage unavailable", "operation", op, "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "Storage unavailable",
		})
	default:
		observe(op, outcomeError)
		api.logger.Error("request message operation failed", "operation", op, "path", r.URL.Path, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal Server Error",
		})
	}
}

// handleHealth returns system health
func (api *AdminAPI) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := api.store.Ping(ctx); err != nil {
		health["storage"] = "unhealthy"
		health["status"] = "degraded"
	} else {
		health["storage"] = "healthy"
		if n, err := api.store.Count(ctx); err == nil {
			health["records"] = n
		}
	}

	respondJSON(w, http.StatusOK, health)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
