package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/mailing"
	"github.com/doar-mail/doar/internal/pkg/distlock"
	"github.com/doar-mail/doar/internal/pkg/logger"
	"github.com/doar-mail/doar/internal/queue"
	"github.com/doar-mail/doar/internal/tracking"
)

// Dispatcher drains the delivery queue through a sender. Each Run invocation
// is time-boxed so the process cooperates with external schedulers and
// multiple instances can drain the same queue.
type Dispatcher struct {
	queue    *queue.Queue
	rdb      *redis.Client
	injector *tracking.Injector
	sender   Sender
	store    *mailing.Store // optional, nil when running without Postgres

	idleSleep  time.Duration
	maxRunTime time.Duration
}

// NewDispatcher creates a dispatcher. idleSleep is how long to wait when the
// queue is empty; maxRunTime bounds one Run invocation.
func NewDispatcher(q *queue.Queue, rdb *redis.Client, injector *tracking.Injector, sender Sender, store *mailing.Store, idleSleep, maxRunTime time.Duration) *Dispatcher {
	if idleSleep <= 0 {
		idleSleep = 5 * time.Second
	}
	if maxRunTime <= 0 {
		maxRunTime = 55 * time.Second
	}
	return &Dispatcher{
		queue:      q,
		rdb:        rdb,
		injector:   injector,
		sender:     sender,
		store:      store,
		idleSleep:  idleSleep,
		maxRunTime: maxRunTime,
	}
}

// Run processes messages until the run window closes or the context is
// canceled. Returns the number of messages attempted.
func (d *Dispatcher) Run(ctx context.Context) int {
	deadline := time.Now().Add(d.maxRunTime)
	processed := 0

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return processed
		default:
		}

		e := d.queue.Dequeue(ctx)
		if e == nil {
			select {
			case <-ctx.Done():
				return processed
			case <-time.After(d.idleSleep):
			}
			continue
		}

		d.ProcessOne(ctx, e)
		processed++
	}

	return processed
}

// ProcessOne performs a single delivery attempt: attempt bookkeeping,
// tracking instrumentation on a per-attempt copy, transport send and outcome
// reporting. The queued snapshot keeps the uninstrumented body so a retry
// never instruments twice.
func (d *Dispatcher) ProcessOne(ctx context.Context, e *email.Email) {
	e.IncrementSendAttempts()

	out := *e
	// The copy gets its own header map; the queued snapshot must not see
	// the per-attempt headers.
	out.Headers = make(map[string]string, len(e.Headers)+2)
	for k, v := range e.Headers {
		out.Headers[k] = v
	}
	if d.injector != nil {
		unsubURL := d.injector.UnsubscribeURL(out.ID)
		out.AddHeader("List-Unsubscribe", fmt.Sprintf("<%s>", unsubURL))
		out.AddHeader("List-Unsubscribe-Post", "List-Unsubscribe=One-Click")
		d.injector.Instrument(&out)
	}

	result, err := d.sender.Send(ctx, &out)
	if err != nil {
		logger.Error("delivery attempt failed",
			"email_id", e.ID,
			"transport", d.sender.Name(),
			"attempt", e.SendAttempts,
			"error", err)
		e.SetStatus(email.StatusFailed)
		d.queue.ReportOutcome(ctx, e, false)
		d.recordStatus(ctx, e.ID, e.Status)
		return
	}

	e.SetStatus(email.StatusSent)
	if result != nil && !result.SentAt.IsZero() {
		sentAt := result.SentAt
		e.SentAt = &sentAt
	}
	d.queue.ReportOutcome(ctx, e, true)
	d.recordStatus(ctx, e.ID, e.Status)
}

func (d *Dispatcher) recordStatus(ctx context.Context, emailID, status string) {
	if d.store == nil {
		return
	}
	if err := d.store.UpdateEmailStatus(ctx, []string{emailID}, status); err != nil {
		logger.Error("failed to record email status", "email_id", emailID, "error", err)
	}
}

// RunCleanup purges expired messages at most once per UTC day. The debounce
// marker is shared through Redis, and a short-lived lock keeps two instances
// racing on the same day from both paying the scan.
func (d *Dispatcher) RunCleanup(ctx context.Context, daysToKeep int) {
	if daysToKeep <= 0 {
		return
	}
	if d.queue.CleanupRanToday(ctx) {
		return
	}

	lock := distlock.New(d.rdb, "queue_cleanup", 10*time.Minute)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		logger.Error("failed to acquire cleanup lock", "error", err)
		return
	}
	if !acquired {
		return
	}
	defer lock.Release(ctx)

	if d.queue.CleanupRanToday(ctx) {
		return
	}
	d.queue.MarkCleanupRun(ctx)
	deleted := d.queue.CleanupOldEmails(ctx, daysToKeep)
	logger.Info("daily queue cleanup finished", "deleted_count", deleted)
}
