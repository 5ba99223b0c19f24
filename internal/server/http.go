package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alfredjeanlab/propsheet/internal/client"
)

// pingTimeout bounds the database check behind GET /v1/health.
const pingTimeout = 3 * time.Second

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *CatalogServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/options", s.handleListCatalogs)
	mux.HandleFunc("GET /v1/options/{kind}", s.handleGetOptions)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, mux)
}

// handleListCatalogs handles GET /v1/options.
func (s *CatalogServer) handleListCatalogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": Kinds()})
}

// handleGetOptions handles GET /v1/options/{kind}.
func (s *CatalogServer) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Options(r.Context(), r.PathValue("kind"))
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

// handleHealth handles GET /v1/health.
func (s *CatalogServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
			"info":   client.InfoConnectionLost,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *CatalogServer) writeCatalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownCatalog):
		writeError(w, http.StatusNotFound, err.Error())
	case IsConnectionError(err):
		s.logger.Warn("catalog connection lost", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "database connection lost",
			"info":  client.InfoConnectionLost,
		})
	default:
		s.logger.Error("catalog query failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
