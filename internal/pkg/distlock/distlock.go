// Package distlock fences the nightly batch run across hosts: whoever
// holds the run lock executes, everyone else skips. Redis is the
// preferred backend (TTL-expiring keys survive a crashed holder);
// PostgreSQL advisory locks are the fallback when Redis is not
// configured.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyNamespace prefixes every lock key so batch locks never collide
// with other tenants of the same Redis database.
const keyNamespace = "jobmatch:lock:"

// DistLock is a single-holder lock around one batch run. An instance
// belongs to one goroutine; two goroutines need two instances.
type DistLock interface {
	// Acquire takes the lock, returning false when another holder has it.
	Acquire(ctx context.Context) (bool, error)
	// Release drops the lock if this instance still owns it.
	Release(ctx context.Context) error
	// Extend pushes the lock's expiry out by ttl. Backends without an
	// expiry to push (advisory locks) return nil.
	Extend(ctx context.Context, ttl time.Duration) error
}

// NewLock picks the best available backend: Redis when a client is
// configured and reachable, PG advisory locks otherwise.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// KeepAlive re-extends the lock every interval until ctx is cancelled,
// so a run that overruns its expected duration keeps its fence. Run it
// in its own goroutine; it returns when ctx ends. Extension failures
// are logged and retried on the next tick rather than aborting the run:
// a lost lock surfaces as a skipped next acquisition, not a mid-run
// crash.
func KeepAlive(ctx context.Context, lock DistLock, ttl, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, ttl); err != nil && ctx.Err() == nil {
				log.Printf("[DistLock] extend failed: %v", err)
			}
		}
	}
}

// PGAdvisoryLock implements DistLock on pg_try_advisory_lock. The lock
// is session-scoped: it dies with the connection, which is the
// crash-safety Redis gets from TTL expiry.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives a stable 64-bit lock id from the namespaced
// key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(keyNamespace + key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire tries the advisory lock without blocking.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release drops the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// Extend is a no-op: advisory locks have no expiry, they live until
// released or the session dies.
func (l *PGAdvisoryLock) Extend(ctx context.Context, ttl time.Duration) error {
	return nil
}
