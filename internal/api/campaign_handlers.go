package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/mailing"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// CreateCampaign creates a draft campaign.
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}

	var c mailing.Campaign
	if err := decodeJSON(r, &c); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if c.Name == "" || c.Subject == "" || c.FromEmail == "" || c.ContentHTML == "" {
		respondError(w, http.StatusUnprocessableEntity,
			"campaign requires name, subject, from_email and content_html")
		return
	}

	if err := h.store.CreateCampaign(r.Context(), &c); err != nil {
		logger.Error("failed to create campaign", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// GetCampaigns lists all campaigns.
func (h *Handlers) GetCampaigns(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	campaigns, err := h.store.GetCampaigns(r.Context())
	if err != nil {
		logger.Error("failed to list campaigns", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	respondJSON(w, http.StatusOK, campaigns)
}

// GetCampaign returns one campaign with its engagement counters.
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		logger.Error("failed to load campaign", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// DeleteCampaign deletes a campaign that has not started sending.
func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	if err := h.store.DeleteCampaign(r.Context(), id); err != nil {
		if strings.Contains(err.Error(), "cannot delete") {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		logger.Error("failed to delete campaign", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete campaign")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// SendCampaignRequest carries fan-out options.
type SendCampaignRequest struct {
	Priority string `json:"priority,omitempty"`
}

// SendCampaign fans a campaign out to its recipients: one personalized,
// fully rendered message per active recipient, each enqueued independently.
func (h *Handlers) SendCampaign(w http.ResponseWriter, r *http.Request) {
	if !h.requireStore(w) {
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	var req SendCampaignRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		logger.Error("failed to load campaign", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if c.Status == mailing.CampaignSending || c.Status == mailing.CampaignSent {
		respondError(w, http.StatusConflict, "campaign already "+c.Status)
		return
	}

	recipients, err := h.store.GetCampaignRecipients(r.Context(), id)
	if err != nil {
		logger.Error("failed to resolve campaign recipients", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to resolve recipients")
		return
	}
	if len(recipients) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "campaign has no active recipients")
		return
	}

	if err := h.store.MarkCampaignSending(r.Context(), id, len(recipients)); err != nil {
		logger.Error("failed to mark campaign sending", "campaign_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update campaign")
		return
	}

	enqueued := 0
	for _, rec := range recipients {
		e := email.New(
			c.FromEmail, c.FromName,
			[]email.Address{{Email: rec.Email, Name: strings.TrimSpace(rec.FirstName + " " + rec.LastName)}},
			mailing.Personalize(c.Subject, rec),
			mailing.Personalize(c.ContentHTML, rec),
			mailing.Personalize(c.ContentText, rec),
		)
		e.CampaignID = c.ID.String()
		e.ReplyTo = c.ReplyTo
		e.AddTag("campaign")

		if !h.queue.Enqueue(r.Context(), e, req.Priority) {
			logger.Error("failed to enqueue campaign email",
				"campaign_id", id, "email_id", e.ID)
			continue
		}
		cid := c.ID
		if err := h.store.SaveEmailRecord(r.Context(), e.ID, &cid, rec.Email, e.Subject, e.Status); err != nil {
			logger.Error("failed to save email record",
				"campaign_id", id, "email_id", e.ID, "error", err)
		}
		enqueued++
	}

	if err := h.store.MarkCampaignSent(r.Context(), id, enqueued); err != nil {
		logger.Error("failed to mark campaign sent", "campaign_id", id, "error", err)
	}

	logger.Info("campaign fan-out complete",
		"campaign_id", id, "recipients", len(recipients), "enqueued", enqueued)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id": id,
		"recipients":  len(recipients),
		"enqueued":    enqueued,
	})
}
