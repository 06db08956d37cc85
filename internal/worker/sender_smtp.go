package worker

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"time"

	"github.com/google/uuid"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// SMTPSender submits messages to an SMTP relay. STARTTLS is used when the
// server offers it; AUTH is attempted when credentials are configured and
// retried without AUTH when the relay rejects it, since private-network
// relays commonly run open on the submission port.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(host string, port int, username, password string) *SMTPSender {
	return &SMTPSender{host: host, port: port, username: username, password: password}
}

// Name identifies the transport.
func (s *SMTPSender) Name() string { return "smtp" }

// Send builds the MIME message and performs one SMTP transaction per
// recipient envelope (To, Cc and Bcc all receive the same rendered body).
func (s *SMTPSender) Send(ctx context.Context, e *email.Email) (*SendResult, error) {
	if s.host == "" {
		return nil, fmt.Errorf("smtp host not configured")
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), s.host)
	msg := buildMIME(e, messageID)

	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	rcpts := envelopeRecipients(e)
	if err := s.sendSMTP(ctx, addr, e.From, rcpts, msg); err != nil {
		return nil, fmt.Errorf("smtp send failed: %w", err)
	}

	logger.Info("email sent via smtp",
		"email_id", e.ID, "recipient", rcpts[0], "message_id", messageID)

	return &SendResult{MessageID: messageID, SentAt: time.Now().UTC()}, nil
}

func envelopeRecipients(e *email.Email) []string {
	var rcpts []string
	for _, lists := range [][]email.Address{e.To, e.Cc, e.Bcc} {
		for _, a := range lists {
			rcpts = append(rcpts, a.Email)
		}
	}
	return rcpts
}

// buildMIME renders headers plus a multipart/alternative body. Bcc addresses
// go on the envelope only, never into the header block.
func buildMIME(e *email.Email, messageID string) []byte {
	var headerBuf bytes.Buffer
	if e.FromName != "" {
		headerBuf.WriteString(fmt.Sprintf("From: %s <%s>\r\n",
			mime.QEncoding.Encode("utf-8", e.FromName), e.From))
	} else {
		headerBuf.WriteString(fmt.Sprintf("From: %s\r\n", e.From))
	}
	headerBuf.WriteString(fmt.Sprintf("To: %s\r\n", formatAddressList(e.To)))
	if len(e.Cc) > 0 {
		headerBuf.WriteString(fmt.Sprintf("Cc: %s\r\n", formatAddressList(e.Cc)))
	}
	if e.ReplyTo != "" {
		headerBuf.WriteString(fmt.Sprintf("Reply-To: %s\r\n", e.ReplyTo))
	}
	headerBuf.WriteString(fmt.Sprintf("Subject: %s\r\n",
		mime.QEncoding.Encode("utf-8", e.Subject)))
	headerBuf.WriteString(fmt.Sprintf("Message-ID: <%s>\r\n", messageID))
	headerBuf.WriteString("MIME-Version: 1.0\r\n")

	for k, v := range e.Headers {
		headerBuf.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}

	boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])
	headerBuf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	headerBuf.WriteString("\r\n")

	var bodyBuf bytes.Buffer
	if e.TextBody != "" {
		bodyBuf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		bodyBuf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		bodyBuf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		bodyBuf.WriteString(e.TextBody)
		bodyBuf.WriteString("\r\n")
	}
	if e.HTMLBody != "" {
		bodyBuf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		bodyBuf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		bodyBuf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		bodyBuf.WriteString(e.HTMLBody)
		bodyBuf.WriteString("\r\n")
	}
	bodyBuf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return append(headerBuf.Bytes(), bodyBuf.Bytes()...)
}

func formatAddressList(addrs []email.Address) string {
	var buf bytes.Buffer
	for i, a := range addrs {
		if i > 0 {
			buf.WriteString(", ")
		}
		if a.Name != "" {
			buf.WriteString(fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", a.Name), a.Email))
		} else {
			buf.WriteString(a.Email)
		}
	}
	return buf.String()
}

func (s *SMTPSender) sendSMTP(ctx context.Context, addr, from string, rcpts []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: 30 * time.Second}

	dialAndSetup := func(tryAuth bool) (*smtp.Client, error) {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", addr, err)
		}
		c, err := smtp.NewClient(conn, s.host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("smtp client: %w", err)
		}
		if ok, _ := c.Extension("STARTTLS"); ok {
			tlsCfg := &tls.Config{ServerName: s.host}
			if tlsErr := c.StartTLS(tlsCfg); tlsErr != nil {
				logger.Warn("starttls failed, continuing without tls", "error", tlsErr)
			}
		}
		if tryAuth && s.username != "" && s.password != "" {
			if authErr := c.Auth(&relayPlainAuth{user: s.username, pass: s.password}); authErr != nil {
				c.Close()
				return nil, authErr
			}
		}
		return c, nil
	}

	client, err := dialAndSetup(s.username != "" && s.password != "")
	if err != nil && s.username != "" && s.password != "" {
		logger.Warn("smtp auth failed, retrying without auth", "error", err)
		client, err = dialAndSetup(false)
	}
	if err != nil {
		return fmt.Errorf("smtp setup: %w", err)
	}
	defer client.Close()

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", logger.RedactEmail(rcpt), err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return client.Quit()
}

// relayPlainAuth implements smtp.Auth without the TLS requirement stdlib's
// PlainAuth enforces. Relays on private networks often skip TLS on the
// submission port.
type relayPlainAuth struct {
	user, pass string
}

func (a *relayPlainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	return "PLAIN", []byte("\x00" + a.user + "\x00" + a.pass), nil
}

func (a *relayPlainAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return nil, nil
}
