package api

import (
	"net/http"
	"time"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// SendEmailRequest is the payload for single and batch send endpoints.
type SendEmailRequest struct {
	From        string            `json:"from"`
	FromName    string            `json:"from_name,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	To          []email.Address   `json:"to"`
	Cc          []email.Address   `json:"cc,omitempty"`
	Bcc         []email.Address   `json:"bcc,omitempty"`
	Subject     string            `json:"subject"`
	HTMLBody    string            `json:"html_body,omitempty"`
	TextBody    string            `json:"text_body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	TrackOpens  *bool             `json:"track_opens,omitempty"`
	TrackClicks *bool             `json:"track_clicks,omitempty"`
}

func (req *SendEmailRequest) toEmail() *email.Email {
	e := email.New(req.From, req.FromName, req.To, req.Subject, req.HTMLBody, req.TextBody)
	e.ReplyTo = req.ReplyTo
	e.Cc = req.Cc
	e.Bcc = req.Bcc
	e.Headers = req.Headers
	e.Tags = req.Tags
	if req.TrackOpens != nil {
		e.TrackOpens = *req.TrackOpens
	}
	if req.TrackClicks != nil {
		e.TrackClicks = *req.TrackClicks
	}
	if req.ScheduledAt != nil {
		e.Schedule(*req.ScheduledAt)
	}
	return e
}

// SendEmail accepts one message and places it in the queue.
func (h *Handlers) SendEmail(w http.ResponseWriter, r *http.Request) {
	var req SendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	e := req.toEmail()
	if !e.Ready() {
		respondError(w, http.StatusUnprocessableEntity,
			"email requires from, at least one recipient, a subject and a body")
		return
	}

	if !h.queue.Enqueue(r.Context(), e, req.Priority) {
		respondError(w, http.StatusInternalServerError, "failed to enqueue email")
		return
	}

	h.saveEmailRecord(r, e)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"id":     e.ID,
		"status": e.Status,
	})
}

// BatchSendRequest wraps multiple messages sharing one priority.
type BatchSendRequest struct {
	Emails   []SendEmailRequest `json:"emails"`
	Priority string             `json:"priority,omitempty"`
}

// BatchSendResponse reports per-message acceptance.
type BatchSendResponse struct {
	Accepted []string `json:"accepted"`
	Rejected int      `json:"rejected"`
}

// SendEmailBatch accepts up to 1000 messages in one call. Messages are
// enqueued independently; a rejected message does not fail the batch.
func (h *Handlers) SendEmailBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchSendRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Emails) == 0 {
		respondError(w, http.StatusUnprocessableEntity, "emails is empty")
		return
	}
	if len(req.Emails) > 1000 {
		respondError(w, http.StatusUnprocessableEntity, "batch size exceeds 1000")
		return
	}

	resp := BatchSendResponse{}
	for i := range req.Emails {
		e := req.Emails[i].toEmail()
		if !e.Ready() || !h.queue.Enqueue(r.Context(), e, req.Priority) {
			resp.Rejected++
			continue
		}
		h.saveEmailRecord(r, e)
		resp.Accepted = append(resp.Accepted, e.ID)
	}

	logger.Info("batch send accepted",
		"accepted", len(resp.Accepted), "rejected", resp.Rejected)
	respondJSON(w, http.StatusAccepted, resp)
}

// saveEmailRecord mirrors the queued message into Postgres so tracking joins
// can resolve it. Best effort; the queue entry is authoritative.
func (h *Handlers) saveEmailRecord(r *http.Request, e *email.Email) {
	if h.store == nil || len(e.To) == 0 {
		return
	}
	if err := h.store.SaveEmailRecord(r.Context(), e.ID, nil, e.To[0].Email, e.Subject, e.Status); err != nil {
		logger.Error("failed to save email record", "email_id", e.ID, "error", err)
	}
}
