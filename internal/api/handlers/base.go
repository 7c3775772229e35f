// Package handlers implements the read API endpoints over the run store.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"reconcileflow/internal/api/dto"
	"reconcileflow/internal/storage"
	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

// Base provides shared functionality for all handlers.
type Base struct {
	repo   storage.Repository
	logger logger.Logger
}

// NewBase creates a new base handler with the given repository.
func NewBase(repo storage.Repository, log logger.Logger) *Base {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Base{repo: repo, logger: log.WithComponent("api")}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(w http.ResponseWriter, status int, err dto.APIError) {
	b.WriteJSON(w, status, err)
}

// WriteStoreError maps a repository error to a response. Unknown runs are
// reported as 404, everything else as 500.
func (b *Base) WriteStoreError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.IsCode(err, errors.CodeRunNotFound) {
		b.WriteError(w, http.StatusNotFound, dto.NotFoundError("run"))
		return
	}
	b.logger.WithError(err).WithField("path", r.URL.Path).Error("Run store request failed")
	b.WriteError(w, http.StatusInternalServerError, dto.InternalError())
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
