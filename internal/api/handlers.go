// Package api serves the REST surface: send requests, campaign, list and
// template management, and queue statistics.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/doar-mail/doar/internal/mailing"
	"github.com/doar-mail/doar/internal/queue"
)

// Handlers holds the dependencies shared by all API handlers.
type Handlers struct {
	queue *queue.Queue
	store *mailing.Store
}

// NewHandlers creates the API handler set. store may be nil when the server
// runs without Postgres; campaign, list and template routes then return 503.
func NewHandlers(q *queue.Queue, store *mailing.Store) *Handlers {
	return &Handlers{queue: q, store: store}
}

// HealthCheck reports liveness.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetQueueStats returns the queue depth and counter snapshot.
func (h *Handlers) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.queue.GetStats(r.Context()))
}

// requireStore guards routes that need the relational store.
func (h *Handlers) requireStore(w http.ResponseWriter) bool {
	if h.store == nil {
		respondError(w, http.StatusServiceUnavailable, "database not configured")
		return false
	}
	return true
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
