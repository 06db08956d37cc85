package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	e := New("from@example.com", "From", []Address{{Email: "to@example.com"}}, "subj", "<p>hi</p>", "hi")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, StatusDraft, e.Status)
	assert.True(t, e.TrackOpens)
	assert.True(t, e.TrackClicks)
	assert.Zero(t, e.SendAttempts)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Email)
		want   bool
	}{
		{"complete", func(e *Email) {}, true},
		{"missing from", func(e *Email) { e.From = "" }, false},
		{"no recipients", func(e *Email) { e.To = nil }, false},
		{"missing subject", func(e *Email) { e.Subject = "" }, false},
		{"no bodies", func(e *Email) { e.HTMLBody = ""; e.TextBody = "" }, false},
		{"text only", func(e *Email) { e.HTMLBody = "" }, true},
		{"html only", func(e *Email) { e.TextBody = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New("from@example.com", "From", []Address{{Email: "to@example.com"}}, "subj", "<p>hi</p>", "hi")
			tt.mutate(e)
			assert.Equal(t, tt.want, e.Ready())
		})
	}
}

func TestScheduleSetsStatusAndTime(t *testing.T) {
	e := New("from@example.com", "", []Address{{Email: "to@example.com"}}, "subj", "<p>hi</p>", "")
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.FixedZone("IDT", 3*3600))

	e.Schedule(at)

	assert.Equal(t, StatusScheduled, e.Status)
	require.NotNil(t, e.ScheduledAt)
	assert.Equal(t, at.UTC(), *e.ScheduledAt)
}

func TestSetStatusStampsSentAtOnce(t *testing.T) {
	e := New("from@example.com", "", []Address{{Email: "to@example.com"}}, "subj", "<p>hi</p>", "")

	e.SetStatus(StatusSent)
	require.NotNil(t, e.SentAt)
	first := *e.SentAt

	e.SetStatus(StatusDelivered)
	e.SetStatus(StatusSent)
	assert.Equal(t, first, *e.SentAt)
}

func TestIncrementSendAttempts(t *testing.T) {
	e := New("from@example.com", "", []Address{{Email: "to@example.com"}}, "subj", "<p>hi</p>", "")

	e.IncrementSendAttempts()
	e.IncrementSendAttempts()

	assert.Equal(t, 2, e.SendAttempts)
	assert.NotNil(t, e.LastAttemptAt)
}

func TestAddTagDeduplicates(t *testing.T) {
	e := New("from@example.com", "", []Address{{Email: "to@example.com"}}, "subj", "<p>hi</p>", "")

	e.AddTag("newsletter")
	e.AddTag("newsletter")
	e.AddTag("promo")

	assert.Equal(t, []string{"newsletter", "promo"}, e.Tags)
}

func TestMarshalRoundTrip(t *testing.T) {
	e := New("from@example.com", "From", []Address{{Email: "to@example.com", Name: "To"}}, "subj", "<p>hi</p>", "hi")
	e.CampaignID = "camp-1"
	e.AddHeader("X-Test", "1")

	data, err := e.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.CampaignID, got.CampaignID)
	assert.Equal(t, e.To, got.To)
	assert.Equal(t, e.Headers, got.Headers)
}

func TestSnapshotUsesSnakeCaseKeys(t *testing.T) {
	e := New("from@example.com", "From", []Address{{Email: "to@example.com"}}, "subj", "<p>hi</p>", "hi")

	data, err := e.Marshal()
	require.NoError(t, err)

	s := string(data)
	for _, key := range []string{`"html_body"`, `"text_body"`, `"track_opens"`, `"send_attempts"`, `"created_at"`} {
		assert.Contains(t, s, key)
	}
}
