// Package mailing holds the persistence glue around the delivery core:
// campaigns, mailing lists, recipients and templates, the relational record
// of every message handed to the queue, and merge-tag personalization.
package mailing

import (
	"time"

	"github.com/google/uuid"
)

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignScheduled = "scheduled"
	CampaignSending   = "sending"
	CampaignPaused    = "paused"
	CampaignSent      = "sent"
)

// Campaign is a bulk send definition plus its aggregate engagement counts.
type Campaign struct {
	ID               uuid.UUID   `json:"id"`
	Name             string      `json:"name"`
	Subject          string      `json:"subject"`
	FromEmail        string      `json:"from_email"`
	FromName         string      `json:"from_name"`
	ReplyTo          string      `json:"reply_to,omitempty"`
	ContentHTML      string      `json:"content_html"`
	ContentText      string      `json:"content_text,omitempty"`
	Status           string      `json:"status"`
	ListIDs          []uuid.UUID `json:"list_ids,omitempty"`
	TotalRecipients  int         `json:"total_recipients"`
	SentCount        int         `json:"sent_count"`
	OpenCount        int         `json:"open_count"`
	ClickCount       int         `json:"click_count"`
	BounceCount      int         `json:"bounce_count"`
	UnsubscribeCount int         `json:"unsubscribe_count"`
	ScheduledAt      *time.Time  `json:"scheduled_at,omitempty"`
	SentAt           *time.Time  `json:"sent_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        *time.Time  `json:"updated_at,omitempty"`
}

// List statuses.
const (
	ListActive   = "active"
	ListInactive = "inactive"
)

// List is a named collection of recipients.
type List struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	RecipientCount int        `json:"recipient_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Recipient statuses.
const (
	RecipientActive       = "active"
	RecipientUnsubscribed = "unsubscribed"
	RecipientBounced      = "bounced"
	RecipientComplained   = "complained"
)

// Recipient is one list member.
type Recipient struct {
	ID             uuid.UUID  `json:"id"`
	ListID         uuid.UUID  `json:"list_id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	Status         string     `json:"status"`
	SubscribedAt   time.Time  `json:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty"`
}

// Template statuses.
const (
	TemplateDraft    = "draft"
	TemplateActive   = "active"
	TemplateArchived = "archived"
)

// Template is reusable message content with merge-tag placeholders.
type Template struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	ContentHTML    string     `json:"content_html"`
	ContentText    string     `json:"content_text,omitempty"`
	DefaultSubject string     `json:"default_subject,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}
