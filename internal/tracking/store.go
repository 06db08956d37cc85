package tracking

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Event types recorded by the tracking endpoints.
const (
	EventOpen        = "open"
	EventClick       = "click"
	EventUnsubscribe = "unsubscribe"
)

// Event is one engagement event correlated to a message by its id.
type Event struct {
	ID         uuid.UUID
	EmailID    string
	EventType  string
	LinkURL    string
	IPAddress  string
	UserAgent  string
	DeviceType string
	EventAt    time.Time
}

// Store persists tracking events and rolls engagement counts up to the
// message's campaign.
type Store struct {
	db *sql.DB
}

// NewStore creates a tracking event store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// RecordEvent inserts one tracking event.
func (s *Store) RecordEvent(ctx context.Context, evt *Event) error {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.EventAt.IsZero() {
		evt.EventAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracking_events (id, email_id, event_type, link_url, ip_address, user_agent, device_type, event_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		evt.ID, evt.EmailID, evt.EventType, evt.LinkURL,
		evt.IPAddress, evt.UserAgent, evt.DeviceType, evt.EventAt)
	return err
}

// campaign stat column per event type
var statColumns = map[string]string{
	EventOpen:        "open_count",
	EventClick:       "click_count",
	EventUnsubscribe: "unsubscribe_count",
}

// BumpCampaignStat increments the campaign counter matching the event type,
// resolving the campaign through the emails table. Messages without a
// campaign are a no-op.
func (s *Store) BumpCampaignStat(ctx context.Context, emailID, eventType string) error {
	column, ok := statColumns[eventType]
	if !ok {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET `+column+` = `+column+` + 1, updated_at = NOW()
		WHERE id = (SELECT campaign_id FROM emails WHERE id = $1 AND campaign_id IS NOT NULL)`,
		emailID)
	return err
}

// MarkUnsubscribed flips every recipient row holding the message's recipient
// address to unsubscribed.
func (s *Store) MarkUnsubscribed(ctx context.Context, emailID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE recipients SET status = 'unsubscribed', unsubscribed_at = NOW()
		WHERE email IN (SELECT recipient FROM emails WHERE id = $1)`,
		emailID)
	return err
}
