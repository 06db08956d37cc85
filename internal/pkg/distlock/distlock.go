// Package distlock provides a Redis-backed distributed lock. The queue
// already requires Redis, so cross-instance coordination (like the daily
// cleanup) piggybacks on the same store.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single-owner lock with TTL expiry. A random ownership token and
// a Lua-scripted release prevent one process from releasing a lock another
// process has since acquired. Not safe for concurrent use from multiple
// goroutines; create one Lock per attempt.
type Lock struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// New creates a lock on the given key. The TTL bounds how long a crashed
// holder can block other instances.
func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	b := make([]byte, 16)
	rand.Read(b)
	return &Lock{
		client: client,
		key:    "lock:" + key,
		token:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock without blocking. Returns true on
// success.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release drops the lock if this instance still owns it.
func (l *Lock) Release(ctx context.Context) error {
	_, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	return err
}
