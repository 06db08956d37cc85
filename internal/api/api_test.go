package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/mailing"
	"github.com/doar-mail/doar/internal/queue"

	"github.com/google/uuid"
)

func setupTestAPI(t *testing.T) (http.Handler, *queue.Queue, sqlmock.Sqlmock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.New(rdb, queue.Config{MaxTries: 3, RetryAfter: 60})
	h := NewHandlers(q, mailing.NewStore(db))
	return SetupRoutes(h), q, mock
}

func postJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSendEmailAccepted(t *testing.T) {
	router, q, mock := setupTestAPI(t)
	mock.ExpectExec("INSERT INTO emails").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postJSON(t, router, "/api/emails", SendEmailRequest{
		From:     "sender@example.com",
		To:       []email.Address{{Email: "rcpt@example.com"}},
		Subject:  "hello",
		HTMLBody: "<html><body>hi</body></html>",
		Priority: "high",
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "queued", resp["status"])

	stats := q.GetStats(context.Background())
	assert.Equal(t, int64(1), stats.HighPriority)
}

func TestSendEmailRejectsIncomplete(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	rec := postJSON(t, router, "/api/emails", SendEmailRequest{
		From:    "sender@example.com",
		Subject: "no recipient",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestSendEmailRejectsMalformedBody(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/emails", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendEmailBatch(t *testing.T) {
	router, q, mock := setupTestAPI(t)
	mock.ExpectExec("INSERT INTO emails").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO emails").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := postJSON(t, router, "/api/emails/batch", BatchSendRequest{
		Emails: []SendEmailRequest{
			{From: "s@example.com", To: []email.Address{{Email: "a@example.com"}}, Subject: "one", TextBody: "x"},
			{From: "s@example.com", To: []email.Address{{Email: "b@example.com"}}, Subject: "two", TextBody: "x"},
			{From: "s@example.com", Subject: "broken"},
		},
	})

	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp BatchSendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Accepted, 2)
	assert.Equal(t, 1, resp.Rejected)

	stats := q.GetStats(context.Background())
	assert.Equal(t, int64(2), stats.NormalPriority)
}

func TestQueueStatsEndpoint(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var stats queue.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Zero(t, stats.HighPriority)
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func campaignRows(id, listID uuid.UUID, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "subject", "from_email", "from_name", "reply_to",
		"content_html", "content_text", "status", "total_recipients", "sent_count",
		"open_count", "click_count", "bounce_count", "unsubscribe_count",
		"scheduled_at", "sent_at", "created_at", "updated_at",
	}).AddRow(
		id.String(), "Spring", "Hi {{first_name}}", "news@example.com", "News", "",
		"<html><body>hello {{first_name}}</body></html>", "", status, 0, 0,
		0, 0, 0, 0,
		nil, nil, time.Now().UTC(), nil,
	)
}

func TestSendCampaignFanOut(t *testing.T) {
	router, q, mock := setupTestAPI(t)
	campaignID := uuid.New()
	listID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WillReturnRows(campaignRows(campaignID, listID, mailing.CampaignDraft))
	mock.ExpectQuery("SELECT list_id FROM campaign_lists").
		WillReturnRows(sqlmock.NewRows([]string{"list_id"}).AddRow(listID.String()))
	mock.ExpectQuery("SELECT DISTINCT ON").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "list_id", "email", "first_name", "last_name", "status", "subscribed_at", "unsubscribed_at",
		}).
			AddRow(uuid.New().String(), listID.String(), "dana@example.com", "Dana", "Levi",
				mailing.RecipientActive, time.Now().UTC(), nil).
			AddRow(uuid.New().String(), listID.String(), "noam@example.com", "Noam", "",
				mailing.RecipientActive, time.Now().UTC(), nil))
	mock.ExpectExec("UPDATE campaigns SET status (.+) total_recipients").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO emails").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO emails").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE campaigns SET status (.+) sent_count").
		WillReturnResult(sqlmock.NewResult(0, 1))

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaignID.String()+"/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(2), resp["enqueued"])

	// One personalized message per recipient.
	stats := q.GetStats(context.Background())
	assert.Equal(t, int64(2), stats.NormalPriority)

	first := q.Dequeue(context.Background())
	require.NotNil(t, first)
	assert.Equal(t, campaignID.String(), first.CampaignID)
	assert.Contains(t, first.HTMLBody, "hello Dana")
	assert.Equal(t, "Hi Dana", first.Subject)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendCampaignConflictWhenAlreadySent(t *testing.T) {
	router, _, mock := setupTestAPI(t)
	campaignID := uuid.New()
	listID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM campaigns WHERE id").
		WillReturnRows(campaignRows(campaignID, listID, mailing.CampaignSent))
	mock.ExpectQuery("SELECT list_id FROM campaign_lists").
		WillReturnRows(sqlmock.NewRows([]string{"list_id"}))

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/"+campaignID.String()+"/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendCampaignInvalidID(t *testing.T) {
	router, _, _ := setupTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/campaigns/not-a-uuid/send", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
