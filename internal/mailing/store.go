package mailing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store provides database operations for mailing entities. The relational
// store is the system of record for querying and reporting; the delivery
// queue is the dispatch mechanism only.
type Store struct {
	db *sql.DB
}

// NewStore creates a mailing store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateCampaign inserts a new campaign in draft status.
func (s *Store) CreateCampaign(ctx context.Context, c *Campaign) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = CampaignDraft
	}

	query := `INSERT INTO campaigns (id, name, subject, from_email, from_name, reply_to,
		content_html, content_text, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.db.ExecContext(ctx, query, c.ID, c.Name, c.Subject, c.FromEmail, c.FromName,
		c.ReplyTo, c.ContentHTML, c.ContentText, c.Status, c.ScheduledAt, c.CreatedAt)
	if err != nil {
		return err
	}

	for _, listID := range c.ListIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO campaign_lists (campaign_id, list_id) VALUES ($1, $2)`,
			c.ID, listID); err != nil {
			return err
		}
	}
	return nil
}

// GetCampaign retrieves a campaign by id, or nil when absent.
func (s *Store) GetCampaign(ctx context.Context, id uuid.UUID) (*Campaign, error) {
	query := `SELECT id, name, subject, from_email, from_name, COALESCE(reply_to, ''),
		content_html, COALESCE(content_text, ''), status, total_recipients, sent_count,
		open_count, click_count, bounce_count, unsubscribe_count,
		scheduled_at, sent_at, created_at, updated_at
		FROM campaigns WHERE id = $1`

	c := &Campaign{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.Subject, &c.FromEmail, &c.FromName, &c.ReplyTo,
		&c.ContentHTML, &c.ContentText, &c.Status, &c.TotalRecipients, &c.SentCount,
		&c.OpenCount, &c.ClickCount, &c.BounceCount, &c.UnsubscribeCount,
		&c.ScheduledAt, &c.SentAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT list_id FROM campaign_lists WHERE campaign_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var listID uuid.UUID
		if err := rows.Scan(&listID); err != nil {
			return nil, err
		}
		c.ListIDs = append(c.ListIDs, listID)
	}
	return c, rows.Err()
}

// GetCampaigns retrieves all campaigns, newest first.
func (s *Store) GetCampaigns(ctx context.Context) ([]*Campaign, error) {
	query := `SELECT id, name, subject, status, total_recipients, sent_count,
		open_count, click_count, unsubscribe_count, created_at
		FROM campaigns ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		c := &Campaign{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Subject, &c.Status, &c.TotalRecipients,
			&c.SentCount, &c.OpenCount, &c.ClickCount, &c.UnsubscribeCount, &c.CreatedAt); err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// UpdateCampaignStatus transitions a campaign; reaching "sent" stamps sent_at.
func (s *Store) UpdateCampaignStatus(ctx context.Context, id uuid.UUID, status string) error {
	query := `UPDATE campaigns SET status = $2, updated_at = NOW(),
		sent_at = CASE WHEN $2 = 'sent' AND sent_at IS NULL THEN NOW() ELSE sent_at END
		WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, status)
	return err
}

// MarkCampaignSending flips a campaign into sending and records the resolved
// recipient count.
func (s *Store) MarkCampaignSending(ctx context.Context, id uuid.UUID, totalRecipients int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, total_recipients = $3, updated_at = NOW() WHERE id = $1`,
		id, CampaignSending, totalRecipients)
	return err
}

// MarkCampaignSent records fan-out completion: every message is in the
// queue's hands. Delivery outcomes are tracked per message, not here.
func (s *Store) MarkCampaignSent(ctx context.Context, id uuid.UUID, sentCount int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $2, sent_count = $3, sent_at = NOW(), updated_at = NOW() WHERE id = $1`,
		id, CampaignSent, sentCount)
	return err
}

// DeleteCampaign removes a draft campaign and its list links. Campaigns that
// started sending are kept for reporting.
func (s *Store) DeleteCampaign(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM campaigns WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if status == CampaignSending || status == CampaignSent {
		return fmt.Errorf("cannot delete campaign %s in status %s", id, status)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM campaign_lists WHERE campaign_id = $1`, id); err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	return err
}

// CreateList inserts a new mailing list.
func (s *Store) CreateList(ctx context.Context, l *List) error {
	l.ID = uuid.New()
	l.CreatedAt = time.Now().UTC()
	if l.Status == "" {
		l.Status = ListActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO lists (id, name, description, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		l.ID, l.Name, l.Description, l.Status, l.CreatedAt)
	return err
}

// GetList retrieves a list by id, or nil when absent.
func (s *Store) GetList(ctx context.Context, id uuid.UUID) (*List, error) {
	query := `SELECT id, name, COALESCE(description, ''), status, recipient_count, created_at, updated_at
		FROM lists WHERE id = $1`

	l := &List{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&l.ID, &l.Name, &l.Description, &l.Status, &l.RecipientCount, &l.CreatedAt, &l.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

// GetLists retrieves all active lists.
func (s *Store) GetLists(ctx context.Context) ([]*List, error) {
	query := `SELECT id, name, COALESCE(description, ''), status, recipient_count, created_at
		FROM lists WHERE status = 'active' ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lists []*List
	for rows.Next() {
		l := &List{}
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.Status, &l.RecipientCount, &l.CreatedAt); err != nil {
			return nil, err
		}
		lists = append(lists, l)
	}
	return lists, rows.Err()
}

// AddRecipient subscribes an address to a list and bumps the list counter.
func (s *Store) AddRecipient(ctx context.Context, r *Recipient) error {
	r.ID = uuid.New()
	r.SubscribedAt = time.Now().UTC()
	if r.Status == "" {
		r.Status = RecipientActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients (id, list_id, email, first_name, last_name, status, subscribed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.ListID, r.Email, r.FirstName, r.LastName, r.Status, r.SubscribedAt)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE lists SET recipient_count = recipient_count + 1, updated_at = NOW() WHERE id = $1`,
		r.ListID)
	return err
}

// RemoveRecipient removes an address from a list.
func (s *Store) RemoveRecipient(ctx context.Context, listID uuid.UUID, address string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM recipients WHERE list_id = $1 AND email = $2`, listID, address)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE lists SET recipient_count = recipient_count - $2, updated_at = NOW() WHERE id = $1`,
			listID, n)
	}
	return err
}

// GetRecipients retrieves the members of one list.
func (s *Store) GetRecipients(ctx context.Context, listID uuid.UUID) ([]*Recipient, error) {
	query := `SELECT id, list_id, email, COALESCE(first_name, ''), COALESCE(last_name, ''),
		status, subscribed_at, unsubscribed_at
		FROM recipients WHERE list_id = $1 ORDER BY subscribed_at`

	rows, err := s.db.QueryContext(ctx, query, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*Recipient
	for rows.Next() {
		r := &Recipient{}
		if err := rows.Scan(&r.ID, &r.ListID, &r.Email, &r.FirstName, &r.LastName,
			&r.Status, &r.SubscribedAt, &r.UnsubscribedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// GetCampaignRecipients returns the distinct active recipients across all of
// a campaign's lists. Unsubscribed, bounced and complained members are
// excluded at fan-out time.
func (s *Store) GetCampaignRecipients(ctx context.Context, campaignID uuid.UUID) ([]*Recipient, error) {
	query := `SELECT DISTINCT ON (r.email) r.id, r.list_id, r.email,
		COALESCE(r.first_name, ''), COALESCE(r.last_name, ''), r.status, r.subscribed_at, r.unsubscribed_at
		FROM recipients r
		JOIN campaign_lists cl ON cl.list_id = r.list_id
		WHERE cl.campaign_id = $1 AND r.status = $2
		ORDER BY r.email, r.subscribed_at`

	rows, err := s.db.QueryContext(ctx, query, campaignID, RecipientActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipients []*Recipient
	for rows.Next() {
		r := &Recipient{}
		if err := rows.Scan(&r.ID, &r.ListID, &r.Email, &r.FirstName, &r.LastName,
			&r.Status, &r.SubscribedAt, &r.UnsubscribedAt); err != nil {
			return nil, err
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

// CreateTemplate inserts a new template.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	if t.Status == "" {
		t.Status = TemplateDraft
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, description, status, content_html, content_text, default_subject, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.Name, t.Description, t.Status, t.ContentHTML, t.ContentText, t.DefaultSubject, t.CreatedAt)
	return err
}

// GetTemplate retrieves a template by id, or nil when absent.
func (s *Store) GetTemplate(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `SELECT id, name, COALESCE(description, ''), status, content_html,
		COALESCE(content_text, ''), COALESCE(default_subject, ''), created_at, updated_at
		FROM templates WHERE id = $1`

	t := &Template{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Description, &t.Status, &t.ContentHTML,
		&t.ContentText, &t.DefaultSubject, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// GetTemplates retrieves all non-archived templates.
func (s *Store) GetTemplates(ctx context.Context) ([]*Template, error) {
	query := `SELECT id, name, COALESCE(description, ''), status, COALESCE(default_subject, ''), created_at
		FROM templates WHERE status <> $1 ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, TemplateArchived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		t := &Template{}
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.Status, &t.DefaultSubject, &t.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// DeleteTemplate archives a template; templates are never hard-deleted so
// sent campaigns keep their provenance.
func (s *Store) DeleteTemplate(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE templates SET status = $2, updated_at = NOW() WHERE id = $1`, id, TemplateArchived)
	return err
}

// SaveEmailRecord persists the relational record of a message handed to the
// queue, keyed by the queue token. Tracking joins resolve campaigns and
// recipient addresses through this table.
func (s *Store) SaveEmailRecord(ctx context.Context, emailID string, campaignID *uuid.UUID, recipient, subject, status string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (id, campaign_id, recipient, subject, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status`,
		emailID, campaignID, recipient, subject, status)
	return err
}

// UpdateEmailStatus records a message's latest lifecycle status.
func (s *Store) UpdateEmailStatus(ctx context.Context, emailIDs []string, status string) error {
	if len(emailIDs) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET status = $2 WHERE id = ANY($1)`, pq.Array(emailIDs), status)
	return err
}
