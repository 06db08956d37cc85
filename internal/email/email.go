// Package email defines the message record that flows through the delivery
// queue: addressing, content, tracking flags, lifecycle status and attempt
// bookkeeping. The queue stores messages as JSON snapshots keyed by id.
package email

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message lifecycle statuses. The queue is the sole mutator of Status,
// SendAttempts and LastAttemptAt once a message has been enqueued.
const (
	StatusDraft     = "draft"
	StatusQueued    = "queued"
	StatusScheduled = "scheduled"
	StatusSending   = "sending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusBounced   = "bounced"
	StatusRejected  = "rejected"
)

// Address is a recipient or sender mailbox with an optional display name.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Attachment references a stored file to attach to the outgoing message.
type Attachment struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Email is the unit of work handed to the delivery queue. The snake_case
// JSON tags define the snapshot wire format persisted in Redis.
type Email struct {
	ID            string            `json:"id"`
	CampaignID    string            `json:"campaign_id,omitempty"`
	From          string            `json:"from"`
	FromName      string            `json:"from_name"`
	ReplyTo       string            `json:"reply_to,omitempty"`
	To            []Address         `json:"to"`
	Cc            []Address         `json:"cc,omitempty"`
	Bcc           []Address         `json:"bcc,omitempty"`
	Subject       string            `json:"subject"`
	HTMLBody      string            `json:"html_body"`
	TextBody      string            `json:"text_body"`
	Attachments   []Attachment      `json:"attachments,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	TrackOpens    bool              `json:"track_opens"`
	TrackClicks   bool              `json:"track_clicks"`
	Status        string            `json:"status"`
	SendAttempts  int               `json:"send_attempts"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	ScheduledAt   *time.Time        `json:"scheduled_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     *time.Time        `json:"updated_at,omitempty"`
}

// New creates a draft message with a fresh id. Tracking is on by default;
// producers opt out per message.
func New(from, fromName string, to []Address, subject, htmlBody, textBody string) *Email {
	return &Email{
		ID:          uuid.New().String(),
		From:        from,
		FromName:    fromName,
		To:          to,
		Subject:     subject,
		HTMLBody:    htmlBody,
		TextBody:    textBody,
		TrackOpens:  true,
		TrackClicks: true,
		Status:      StatusDraft,
		CreatedAt:   time.Now().UTC(),
	}
}

// Ready reports whether the message carries the minimum fields required
// before it may be queued: sender, at least one recipient, a subject and at
// least one body.
func (e *Email) Ready() bool {
	return e.From != "" && len(e.To) > 0 && e.Subject != "" &&
		(e.HTMLBody != "" || e.TextBody != "")
}

// AddTag appends a label unless it is already present.
func (e *Email) AddTag(tag string) {
	for _, t := range e.Tags {
		if t == tag {
			return
		}
	}
	e.Tags = append(e.Tags, tag)
}

// AddHeader sets a custom header applied verbatim at send time.
func (e *Email) AddHeader(name, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[name] = value
}

// Schedule marks the message for future delivery at the given instant.
func (e *Email) Schedule(at time.Time) {
	t := at.UTC()
	e.ScheduledAt = &t
	e.Status = StatusScheduled
	e.touch()
}

// SetStatus transitions the message status. Reaching StatusSent stamps
// SentAt exactly once.
func (e *Email) SetStatus(status string) {
	e.Status = status
	if status == StatusSent && e.SentAt == nil {
		now := time.Now().UTC()
		e.SentAt = &now
	}
	e.touch()
}

// IncrementSendAttempts records one dispatch attempt, success or failure.
func (e *Email) IncrementSendAttempts() {
	e.SendAttempts++
	now := time.Now().UTC()
	e.LastAttemptAt = &now
	e.touch()
}

func (e *Email) touch() {
	now := time.Now().UTC()
	e.UpdatedAt = &now
}

// Marshal serializes the message snapshot.
func (e *Email) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal email %s: %w", e.ID, err)
	}
	return data, nil
}

// Unmarshal materializes a message from its snapshot.
func Unmarshal(data []byte) (*Email, error) {
	var e Email
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal email: %w", err)
	}
	return &e, nil
}
