// Package lease is a Redis-backed mutual exclusion with expiry, used to let a
// single replica run each sweep tick.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another replica is left alone.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`

// Client is the part of *redis.Client the lease needs.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Lease is one named lease held under a per-process token.
type Lease struct {
	client Client
	key    string
	ttl    time.Duration
	token  string
}

// New returns a lease on key. ttl bounds how long a crashed holder blocks others.
func New(client Client, key string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 25 * time.Second
	}
	return &Lease{client: client, key: key, ttl: ttl, token: uuid.NewString()}
}

// NewClient builds a go-redis client from connection settings.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

// Acquire tries to take the lease without waiting.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease %s: acquire: %w", l.key, err)
	}
	return ok, nil
}

// Release gives the lease back if this process still holds it.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("lease %s: release: %w", l.key, err)
	}
	return nil
}

// Key returns the redis key guarded by the lease.
func (l *Lease) Key() string { return l.key }
