// Package lock provides the per-owner advisory lock used to serialize
// fingerprinting and detection across worker processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dharsanguruparan/dupeguard/internal/dedupe"
)

var _ dedupe.OwnerLock = (*Redis)(nil)

const keyPrefix = "dupeguard:lock:"

// Redis implements dedupe.OwnerLock with SET NX and a TTL. Every successful
// Acquire stores a fresh token so a Release can only delete the lock it
// took, even when an expired lock was re-taken by another holder.
type Redis struct {
	client *redis.Client
	holder string

	mu     sync.Mutex
	tokens map[string]string
}

// NewRedis creates a lock on client.
func NewRedis(client *redis.Client) *Redis {
	hostname, _ := os.Hostname()
	return &Redis{
		client: client,
		holder: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
		tokens: make(map[string]string),
	}
}

// Acquire takes the named lock for ttl. It returns false when another
// holder has it.
func (l *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := l.holder + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, keyPrefix+name, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if ok {
		l.mu.Lock()
		l.tokens[name] = token
		l.mu.Unlock()
	}
	return ok, nil
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release drops the named lock if this instance holds it. Releasing a lock
// that expired or was never taken is a no-op.
func (l *Redis) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	token, ok := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := releaseScript.Run(ctx, l.client, []string{keyPrefix + name}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
