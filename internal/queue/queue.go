// Package queue implements the durable delivery queue for outgoing messages:
// three priority lanes, a time-ordered scheduled set covering both future
// sends and retry backoff, a processing marker lane and a terminal failed
// lane, all backed by Redis so that multiple worker processes share one
// logical queue.
//
// The processing lane is advisory visibility state, not a lock: there is no
// lease expiry, so a worker that crashes between Dequeue and ReportOutcome
// leaves its message in processing with status "sending" until an operator
// requeues it.
package queue

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/doar-mail/doar/internal/email"
	"github.com/doar-mail/doar/internal/pkg/logger"
)

// Redis key layout. Lanes are plain lists of message ids, the scheduled set
// is a ZSET scored by activation epoch seconds, snapshots and statuses are
// per-message string keys.
const (
	queueHigh       = "mail_queue:high"
	queueNormal     = "mail_queue:normal"
	queueLow        = "mail_queue:low"
	queueScheduled  = "mail_queue:scheduled"
	queueFailed     = "mail_queue:failed"
	queueProcessing = "mail_queue:processing"

	keyEmailData   = "mail:data:"
	keyEmailStatus = "mail:status:"
	keyStats       = "mail:stats:"
	keyLastCleanup = "mail:stats:last_cleanup"
)

// Priority names accepted by Enqueue. Anything else falls back to normal.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// Config holds the retry policy for the queue.
type Config struct {
	MaxTries   int // attempts allowed before a message is routed to the failed lane
	RetryAfter int // base backoff in seconds, doubled per attempt
}

// Queue is a multi-priority, scheduled, at-least-once work queue. It owns no
// in-process state beyond the Redis handle; every operation re-reads from the
// shared store so concurrent workers observe a consistent view.
type Queue struct {
	rdb *redis.Client
	cfg Config
	now func() time.Time
}

// New creates a delivery queue on the given Redis client.
func New(rdb *redis.Client, cfg Config) *Queue {
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 1
	}
	if cfg.RetryAfter < 1 {
		cfg.RetryAfter = 1
	}
	return &Queue{rdb: rdb, cfg: cfg, now: time.Now}
}

// Stats is a point-in-time snapshot of queue depth and counters.
type Stats struct {
	HighPriority   int64             `json:"high_priority"`
	NormalPriority int64             `json:"normal_priority"`
	LowPriority    int64             `json:"low_priority"`
	Scheduled      int64             `json:"scheduled"`
	Processing     int64             `json:"processing"`
	Failed         int64             `json:"failed"`
	TodayStats     map[string]string `json:"today_stats"`
	TotalStats     map[string]string `json:"total_stats"`
}

// Enqueue stores the message snapshot and places its id in the lane selected
// by priority, or in the scheduled set when the message is scheduled for a
// future send. Returns false if the message is not ready or the store fails;
// the queue never propagates errors across its public boundary.
//
// Enqueue does not deduplicate by id: enqueueing the same message twice
// appends two queue entries. The producer enqueues each message exactly once.
func (q *Queue) Enqueue(ctx context.Context, e *email.Email, priority string) bool {
	if !e.Ready() {
		logger.Warn("email not ready to be queued", "email_id", e.ID)
		return false
	}

	scheduled := e.Status == email.StatusScheduled && e.ScheduledAt != nil
	if !scheduled {
		e.SetStatus(email.StatusQueued)
	}

	data, err := e.Marshal()
	if err != nil {
		logger.Error("failed to encode email", "email_id", e.ID, "error", err)
		return false
	}

	if err := q.rdb.Set(ctx, keyEmailData+e.ID, data, 0).Err(); err != nil {
		logger.Error("failed to store email snapshot", "email_id", e.ID, "error", err)
		return false
	}
	if err := q.rdb.Set(ctx, keyEmailStatus+e.ID, e.Status, 0).Err(); err != nil {
		logger.Error("failed to store email status", "email_id", e.ID, "error", err)
		return false
	}

	if scheduled {
		score := float64(e.ScheduledAt.Unix())
		if err := q.rdb.ZAdd(ctx, queueScheduled, redis.Z{Score: score, Member: e.ID}).Err(); err != nil {
			logger.Error("failed to schedule email", "email_id", e.ID, "error", err)
			return false
		}
		logger.Info("email scheduled for later delivery",
			"email_id", e.ID, "scheduled_at", e.ScheduledAt.Format(time.RFC3339))
	} else {
		lane := laneForPriority(priority)
		if err := q.rdb.RPush(ctx, lane, e.ID).Err(); err != nil {
			logger.Error("failed to enqueue email", "email_id", e.ID, "error", err)
			return false
		}
		logger.Info("email added to queue", "email_id", e.ID, "queue", lane)
	}

	q.incrStat(ctx, "queued")
	return true
}

// Dequeue promotes due scheduled messages, then pops the next id in strict
// lane order: high, then normal, then low. Returns nil when nothing is ready;
// callers apply their own idle backoff before polling again. On a hit the
// message status becomes "sending" and its id is recorded in the processing
// lane.
func (q *Queue) Dequeue(ctx context.Context) *email.Email {
	q.promoteScheduled(ctx)

	id, ok := q.popNext(ctx)
	if !ok {
		return nil
	}

	data, err := q.rdb.Get(ctx, keyEmailData+id).Bytes()
	if err != nil {
		logger.Error("email snapshot not found", "email_id", id, "error", err)
		return nil
	}

	e, err := email.Unmarshal(data)
	if err != nil {
		logger.Error("failed to decode email snapshot", "email_id", id, "error", err)
		return nil
	}

	e.SetStatus(email.StatusSending)
	if err := q.rdb.Set(ctx, keyEmailStatus+id, email.StatusSending, 0).Err(); err != nil {
		logger.Error("failed to persist sending status", "email_id", id, "error", err)
	}
	if err := q.rdb.RPush(ctx, queueProcessing, id).Err(); err != nil {
		logger.Error("failed to record processing marker", "email_id", id, "error", err)
	}

	q.rdb.HIncrBy(ctx, q.dailyStatsKey(), "processing", 1)

	return e
}

func (q *Queue) popNext(ctx context.Context) (string, bool) {
	for _, lane := range []string{queueHigh, queueNormal, queueLow} {
		id, err := q.rdb.LPop(ctx, lane).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			logger.Error("failed to pop from lane", "queue", lane, "error", err)
			return "", false
		}
		return id, true
	}
	return "", false
}

// ReportOutcome records the result of one dispatch attempt. The message is
// removed from the processing lane and its snapshot re-persisted. On failure
// the message is either scheduled for retry with exponential backoff or, once
// its attempt budget is exhausted, routed to the failed lane.
func (q *Queue) ReportOutcome(ctx context.Context, e *email.Email, success bool) {
	if err := q.rdb.LRem(ctx, queueProcessing, 1, e.ID).Err(); err != nil {
		logger.Error("failed to clear processing marker", "email_id", e.ID, "error", err)
	}

	if data, err := e.Marshal(); err == nil {
		if err := q.rdb.Set(ctx, keyEmailData+e.ID, data, 0).Err(); err != nil {
			logger.Error("failed to persist email snapshot", "email_id", e.ID, "error", err)
		}
	} else {
		logger.Error("failed to encode email", "email_id", e.ID, "error", err)
	}
	if err := q.rdb.Set(ctx, keyEmailStatus+e.ID, e.Status, 0).Err(); err != nil {
		logger.Error("failed to persist email status", "email_id", e.ID, "error", err)
	}

	if success {
		q.incrStat(ctx, "sent")
		return
	}

	if e.SendAttempts <= q.cfg.MaxTries {
		delay := q.retryDelay(e.SendAttempts)
		retryAt := q.now().Add(delay)
		if err := q.rdb.ZAdd(ctx, queueScheduled, redis.Z{
			Score:  float64(retryAt.Unix()),
			Member: e.ID,
		}).Err(); err != nil {
			logger.Error("failed to schedule retry", "email_id", e.ID, "error", err)
			return
		}
		logger.Info("email scheduled for retry",
			"email_id", e.ID,
			"attempt", e.SendAttempts,
			"retry_after_seconds", int(delay.Seconds()),
			"retry_at", retryAt.UTC().Format(time.RFC3339))
		return
	}

	if err := q.rdb.RPush(ctx, queueFailed, e.ID).Err(); err != nil {
		logger.Error("failed to record permanent failure", "email_id", e.ID, "error", err)
		return
	}
	q.incrStat(ctx, "failed")
	logger.Error("email failed permanently", "email_id", e.ID, "attempts", e.SendAttempts)
}

// retryDelay computes exponential backoff: retryAfter * 2^(attempt-1),
// attempts counted from 1.
func (q *Queue) retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	seconds := float64(q.cfg.RetryAfter) * math.Pow(2, float64(attempt-1))
	return time.Duration(seconds) * time.Second
}

// promoteScheduled moves due entries from the scheduled set back into an
// active lane. A message whose last known status is "failed" is promoted to
// the high lane so retries of previously-failed sends are not starved by
// fresh normal traffic; everything else goes to normal. Safe to run on every
// Dequeue call, including when nothing is due.
func (q *Queue) promoteScheduled(ctx context.Context) {
	nowScore := strconv.FormatInt(q.now().Unix(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, queueScheduled, &redis.ZRangeBy{
		Min: "0",
		Max: nowScore,
	}).Result()
	if err != nil {
		logger.Error("failed to read scheduled set", "error", err)
		return
	}

	for _, id := range due {
		status, err := q.rdb.Get(ctx, keyEmailStatus+id).Result()
		if err != nil && err != redis.Nil {
			logger.Error("failed to read email status", "email_id", id, "error", err)
		}

		target := queueNormal
		if status == email.StatusFailed {
			target = queueHigh
		}

		// ZRem is the claim: concurrent promoters both see the id in the
		// range read, but only the one whose removal count is 1 owns it.
		removed, err := q.rdb.ZRem(ctx, queueScheduled, id).Result()
		if err != nil {
			logger.Error("failed to remove from scheduled set", "email_id", id, "error", err)
			continue
		}
		if removed == 0 {
			continue
		}
		if err := q.rdb.RPush(ctx, target, id).Err(); err != nil {
			logger.Error("failed to promote scheduled email", "email_id", id, "error", err)
			continue
		}
		q.rdb.Set(ctx, keyEmailStatus+id, email.StatusQueued, 0)

		// Keep the snapshot's status field in step with the status key.
		if data, err := q.rdb.Get(ctx, keyEmailData+id).Bytes(); err == nil {
			if e, err := email.Unmarshal(data); err == nil {
				e.SetStatus(email.StatusQueued)
				if out, err := e.Marshal(); err == nil {
					q.rdb.Set(ctx, keyEmailData+id, out, 0)
				}
			}
		}

		logger.Info("scheduled email moved to queue", "email_id", id, "target_queue", target)
	}
}

// GetStats returns queue depths and counters. Best effort: on store failure
// it logs and returns an empty snapshot rather than an error, so stats can
// never block queue operation.
func (q *Queue) GetStats(ctx context.Context) Stats {
	stats := Stats{
		TodayStats: map[string]string{},
		TotalStats: map[string]string{},
	}

	var err error
	read := func(f func() error) {
		if err != nil {
			return
		}
		err = f()
	}

	read(func() error { var e error; stats.HighPriority, e = q.rdb.LLen(ctx, queueHigh).Result(); return e })
	read(func() error { var e error; stats.NormalPriority, e = q.rdb.LLen(ctx, queueNormal).Result(); return e })
	read(func() error { var e error; stats.LowPriority, e = q.rdb.LLen(ctx, queueLow).Result(); return e })
	read(func() error { var e error; stats.Scheduled, e = q.rdb.ZCard(ctx, queueScheduled).Result(); return e })
	read(func() error { var e error; stats.Processing, e = q.rdb.LLen(ctx, queueProcessing).Result(); return e })
	read(func() error { var e error; stats.Failed, e = q.rdb.LLen(ctx, queueFailed).Result(); return e })
	read(func() error { var e error; stats.TodayStats, e = q.rdb.HGetAll(ctx, q.dailyStatsKey()).Result(); return e })
	read(func() error { var e error; stats.TotalStats, e = q.rdb.HGetAll(ctx, keyStats+"total").Result(); return e })

	if err != nil {
		logger.Error("failed to get queue stats", "error", err)
		return Stats{TodayStats: map[string]string{}, TotalStats: map[string]string{}}
	}
	return stats
}

// CleanupOldEmails purges messages whose creation time is older than
// daysToKeep. Each purged id is removed from every lane and the scheduled
// set (a no-op where absent) and its snapshot and status keys are deleted.
// Safe to call repeatedly; callers debounce to once per day.
func (q *Queue) CleanupOldEmails(ctx context.Context, daysToKeep int) int {
	cutoff := q.now().Add(-time.Duration(daysToKeep) * 24 * time.Hour)
	deleted := 0

	var cursor uint64
	for {
		keys, next, err := q.rdb.Scan(ctx, cursor, keyEmailData+"*", 1000).Result()
		if err != nil {
			logger.Error("failed to scan email snapshots", "error", err)
			return deleted
		}

		for _, key := range keys {
			id := key[len(keyEmailData):]

			data, err := q.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			e, err := email.Unmarshal(data)
			if err != nil {
				continue
			}
			if !e.CreatedAt.Before(cutoff) {
				continue
			}

			for _, lane := range []string{queueHigh, queueNormal, queueLow, queueProcessing, queueFailed} {
				q.rdb.LRem(ctx, lane, 0, id)
			}
			q.rdb.ZRem(ctx, queueScheduled, id)
			q.rdb.Del(ctx, keyEmailData+id, keyEmailStatus+id)
			deleted++
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	logger.Info("old emails cleanup completed", "deleted_count", deleted, "days_threshold", daysToKeep)
	return deleted
}

// CleanupRanToday reports whether CleanupOldEmails already ran today. The
// marker lives in Redis so the debounce is shared across worker instances.
func (q *Queue) CleanupRanToday(ctx context.Context) bool {
	last, err := q.rdb.Get(ctx, keyLastCleanup).Result()
	if err != nil {
		return false
	}
	return last == q.now().UTC().Format("2006-01-02")
}

// MarkCleanupRun records today's date as the last cleanup run.
func (q *Queue) MarkCleanupRun(ctx context.Context) {
	if err := q.rdb.Set(ctx, keyLastCleanup, q.now().UTC().Format("2006-01-02"), 0).Err(); err != nil {
		logger.Error("failed to record cleanup run", "error", err)
	}
}

func laneForPriority(priority string) string {
	switch strings.ToLower(priority) {
	case PriorityHigh:
		return queueHigh
	case PriorityLow:
		return queueLow
	default:
		return queueNormal
	}
}

func (q *Queue) dailyStatsKey() string {
	return fmt.Sprintf("%sdaily:%s", keyStats, q.now().UTC().Format("2006-01-02"))
}

func (q *Queue) incrStat(ctx context.Context, field string) {
	if err := q.rdb.HIncrBy(ctx, q.dailyStatsKey(), field, 1).Err(); err != nil {
		logger.Error("failed to update daily stats", "field", field, "error", err)
	}
	if err := q.rdb.HIncrBy(ctx, keyStats+"total", field, 1).Err(); err != nil {
		logger.Error("failed to update total stats", "field", field, "error", err)
	}
}
