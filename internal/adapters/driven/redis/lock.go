package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/fhir-bridge/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*Lock)(nil)

// DefaultPrefix namespaces lock keys
const DefaultPrefix = "fhirbridge:lock:"

// ErrLockLost is returned by Extend when the key expired or moved to another holder
var ErrLockLost = errors.New("lock not held by this instance")

// Connect parses a redis:// URL and verifies the server answers
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Lock implements DistributedLock with SET NX PX.
// The value is a per-instance token so only the holder can release or extend.
type Lock struct {
	client redis.Cmdable
	prefix string
	holder string
}

// NewLock creates a lock using DefaultPrefix and a generated holder token
func NewLock(client redis.Cmdable) *Lock {
	return NewLockWithPrefix(client, DefaultPrefix)
}

// NewLockWithPrefix creates a lock whose keys start with prefix
func NewLockWithPrefix(client redis.Cmdable, prefix string) *Lock {
	host, _ := os.Hostname()
	return &Lock{
		client: client,
		prefix: prefix,
		holder: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()),
	}
}

func (l *Lock) key(name string) string {
	return l.prefix + name
}

// Acquire takes name for ttl. acquired is false if anyone, including this
// instance, already holds it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), l.holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// Release deletes the key if this instance still holds it
func (l *Lock) Release(ctx context.Context, name string) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key(name)}, l.holder).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Extend resets the TTL of a held lock. Returns ErrLockLost if the key
// expired or belongs to another holder.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key(name)}, l.holder, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("extend lock %s: %w", name, ErrLockLost)
	}
	return nil
}

// Ping checks if the Redis backend is healthy.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Holder returns the token stored under held keys
func (l *Lock) Holder() string {
	return l.holder
}
