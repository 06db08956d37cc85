package worker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doar-mail/doar/internal/email"
)

func TestBuildMIME(t *testing.T) {
	e := email.New(
		"sender@example.com", "The Sender",
		[]email.Address{{Email: "to@example.com", Name: "To Person"}},
		"hello world",
		"<html><body>hi</body></html>",
		"hi",
	)
	e.Cc = []email.Address{{Email: "cc@example.com"}}
	e.Bcc = []email.Address{{Email: "bcc@example.com"}}
	e.ReplyTo = "reply@example.com"
	e.AddHeader("List-Unsubscribe", "<https://app.example.com/unsubscribe/x>")

	msg := string(buildMIME(e, "msg-1@relay.example.com"))

	assert.Contains(t, msg, "From: ")
	assert.Contains(t, msg, "sender@example.com")
	assert.Contains(t, msg, "To: ")
	assert.Contains(t, msg, "to@example.com")
	assert.Contains(t, msg, "Cc: cc@example.com")
	assert.Contains(t, msg, "Reply-To: reply@example.com")
	assert.Contains(t, msg, "Message-ID: <msg-1@relay.example.com>")
	assert.Contains(t, msg, "MIME-Version: 1.0")
	assert.Contains(t, msg, "List-Unsubscribe: <https://app.example.com/unsubscribe/x>")
	assert.Contains(t, msg, "multipart/alternative")
	assert.Contains(t, msg, "text/plain; charset=UTF-8")
	assert.Contains(t, msg, "text/html; charset=UTF-8")

	// Bcc goes on the envelope only.
	assert.NotContains(t, msg, "Bcc:")

	// Text part precedes the HTML part.
	assert.Less(t, strings.Index(msg, "text/plain"), strings.Index(msg, "text/html"))
}

func TestBuildMIMESkipsEmptyTextPart(t *testing.T) {
	e := email.New(
		"sender@example.com", "",
		[]email.Address{{Email: "to@example.com"}},
		"subject",
		"<html><body>hi</body></html>",
		"",
	)

	msg := string(buildMIME(e, "msg-2@relay.example.com"))
	assert.NotContains(t, msg, "text/plain")
	assert.Contains(t, msg, "text/html")
}

func TestEnvelopeRecipients(t *testing.T) {
	e := email.New(
		"sender@example.com", "",
		[]email.Address{{Email: "to@example.com"}},
		"subject", "<p>hi</p>", "",
	)
	e.Cc = []email.Address{{Email: "cc@example.com"}}
	e.Bcc = []email.Address{{Email: "bcc@example.com"}}

	rcpts := envelopeRecipients(e)
	require.Equal(t, []string{"to@example.com", "cc@example.com", "bcc@example.com"}, rcpts)
}
