package driven

import (
	"context"
	"time"
)

// DistributedLock guards the sync run across bridge replicas that share
// one destination store.
type DistributedLock interface {
	// Acquire tries to take name for ttl. acquired is false when another
	// holder has it; that is not an error.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops name if this instance holds it. Safe to call after expiry.
	Release(ctx context.Context, name string) error

	// Extend pushes out the TTL of a held lock.
	// Backends without TTLs (postgres advisory locks) treat this as a no-op.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend
	Ping(ctx context.Context) error
}
