package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/doar-mail/doar/internal/mailing"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// CreateList creates a mailing list.
func (h *Handlers) CreateList(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var l mailing.List
	if err := decodeJSON(r, &l); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if l.Name == "" {
		respondError(w, http.StatusUnprocessableEntity, "list requires a name")
		return
	}

	if err := h.store.CreateList(r.Context(), &l); err != nil {
		logger.Error("failed to create list", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create list")
		return
	}
	respondJSON(w, http.StatusCreated, l)
}

// GetLists returns all active lists.
func (h *Handlers) GetLists(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	lists, err := h.store.GetLists(r.Context())
	if err != nil {
		logger.Error("failed to list mailing lists", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list mailing lists")
		return
	}
	respondJSON(w, http.StatusOK, lists)
}

// GetList returns one list.
func (h *Handlers) GetList(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "listID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid list id")
		return
	}

	l, err := h.store.GetList(r.Context(), id)
	if err != nil {
		logger.Error("failed to load list", "list_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load list")
		return
	}
	if l == nil {
		respondError(w, http.StatusNotFound, "list not found")
		return
	}
	respondJSON(w, http.StatusOK, l)
}

// GetListRecipients returns the members of a list.
func (h *Handlers) GetListRecipients(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "listID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid list id")
		return
	}

	recipients, err := h.store.GetRecipients(r.Context(), id)
	if err != nil {
		logger.Error("failed to list recipients", "list_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list recipients")
		return
	}
	respondJSON(w, http.StatusOK, recipients)
}

// AddRecipient subscribes an address to a list.
func (h *Handlers) AddRecipient(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "listID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid list id")
		return
	}

	var rec mailing.Recipient
	if err := decodeJSON(r, &rec); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if rec.Email == "" {
		respondError(w, http.StatusUnprocessableEntity, "recipient requires an email")
		return
	}
	rec.ListID = id

	if err := h.store.AddRecipient(r.Context(), &rec); err != nil {
		logger.Error("failed to add recipient", "list_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to add recipient")
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

// RemoveRecipient removes an address from a list.
func (h *Handlers) RemoveRecipient(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "listID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid list id")
		return
	}
	address := r.URL.Query().Get("email")
	if address == "" {
		respondError(w, http.StatusBadRequest, "email query parameter is required")
		return
	}

	if err := h.store.RemoveRecipient(r.Context(), id, address); err != nil {
		logger.Error("failed to remove recipient", "list_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to remove recipient")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
