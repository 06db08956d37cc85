// Package worker dispatches queued messages through a sender adapter. The
// dispatcher owns attempt bookkeeping and tracking instrumentation; the
// adapters own transport.
package worker

import (
	"context"
	"time"

	"github.com/doar-mail/doar/internal/email"
)

// Sender delivers one message over a transport.
type Sender interface {
	// Send attempts delivery and returns the transport result. A non-nil
	// error means the attempt failed and the message is eligible for retry.
	Send(ctx context.Context, e *email.Email) (*SendResult, error)

	// Name identifies the transport in logs.
	Name() string
}

// SendResult is the transport's account of a successful delivery attempt.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}
