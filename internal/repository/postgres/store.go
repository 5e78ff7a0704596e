// Package postgres implements the repository gateway against PostgreSQL.
// Every bulk write is transactional within its batch; transient I/O
// failures are retried internally with exponential backoff (base 1s,
// factor 2, cap 60s, at most 5 attempts). Permanent failures surface as
// *domain.RepoError with Transient=false.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/lib/pq"

	"github.com/ignite/jobmatch-batch/internal/domain"
)

// Store is the Postgres-backed repository gateway.
type Store struct {
	db        *sql.DB
	batchSize int
}

// NewStore wraps an open database handle. batchSize caps rows per bulk
// statement; <=0 uses 1000.
func NewStore(db *sql.DB, batchSize int) *Store {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Store{db: db, batchSize: batchSize}
}

// Open connects to Postgres and verifies the connection.
func Open(url string, maxOpen, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// DB exposes the underlying handle for callers that need advisory locks.
func (s *Store) DB() *sql.DB { return s.db }

// isPermanent classifies driver errors. Integrity violations (SQLSTATE
// class 23) and syntax/access errors (42) never succeed on retry.
func isPermanent(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		class := pqErr.Code.Class()
		return class == "23" || class == "42" || class == "22"
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, domain.ErrNotFound)
}

// withRetry runs op under the gateway retry policy.
func (s *Store) withRetry(ctx context.Context, opName string, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.MaxInterval = 60 * time.Second
	policy.RandomizationFactor = 0.2

	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if isPermanent(err) || attempts >= 5 {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(wrapped, backoff.WithContext(policy, ctx))
	if err == nil {
		return nil
	}
	return &domain.RepoError{Op: opName, Transient: !isPermanent(err), Err: err}
}

// chunk iterates over [0,n) in batches of the store's batch size.
func (s *Store) chunk(n int, fn func(lo, hi int) error) error {
	for lo := 0; lo < n; lo += s.batchSize {
		hi := lo + s.batchSize
		if hi > n {
			hi = n
		}
		if err := fn(lo, hi); err != nil {
			return err
		}
	}
	return nil
}
