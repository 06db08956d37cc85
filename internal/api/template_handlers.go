package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/doar-mail/doar/internal/mailing"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// CreateTemplate creates a message template.
func (h *Handlers) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var t mailing.Template
	if err := decodeJSON(r, &t); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if t.Name == "" || t.ContentHTML == "" {
		respondError(w, http.StatusUnprocessableEntity, "template requires name and content_html")
		return
	}

	if err := h.store.CreateTemplate(r.Context(), &t); err != nil {
		logger.Error("failed to create template", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create template")
		return
	}
	respondJSON(w, http.StatusCreated, t)
}

// GetTemplates returns all non-archived templates.
func (h *Handlers) GetTemplates(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	templates, err := h.store.GetTemplates(r.Context())
	if err != nil {
		logger.Error("failed to list templates", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}
	respondJSON(w, http.StatusOK, templates)
}

// GetTemplate returns one template.
func (h *Handlers) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	t, err := h.store.GetTemplate(r.Context(), id)
	if err != nil {
		logger.Error("failed to load template", "template_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if t == nil {
		respondError(w, http.StatusNotFound, "template not found")
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// DeleteTemplate archives a template.
func (h *Handlers) DeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	if err := h.store.DeleteTemplate(r.Context(), id); err != nil {
		logger.Error("failed to archive template", "template_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to archive template")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}
