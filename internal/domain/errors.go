package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the taxonomy key used in run summaries and metrics.
type ErrorKind string

const (
	KindConfig     ErrorKind = "config"
	KindRepo       ErrorKind = "repo"
	KindValidation ErrorKind = "validation"
	KindScoring    ErrorKind = "scoring"
	KindSection    ErrorKind = "section"
	KindTimeout    ErrorKind = "timeout"
	KindDependency ErrorKind = "dependency"
)

// ErrNotFound is returned by repository reads that match no row.
var ErrNotFound = errors.New("not found")

// ConfigError is fatal at startup: invalid weights, missing knobs.
type ConfigError struct {
	Field  string
	Detail string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Detail)
}

// RepoError surfaces persistence failures. Transient errors are retried
// inside the gateway; permanent ones (constraint violations) bubble up.
type RepoError struct {
	Op        string
	RowID     string
	Transient bool
	Err       error
}

func (e *RepoError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.RowID != "" {
		return fmt.Sprintf("repo %s (%s, row %s): %v", e.Op, kind, e.RowID, e.Err)
	}
	return fmt.Sprintf("repo %s (%s): %v", e.Op, kind, e.Err)
}

func (e *RepoError) Unwrap() error { return e.Err }

// Retryable reports whether the phase runner may retry the operation.
func (e *RepoError) Retryable() bool { return e.Transient }

// ValidationError marks a skippable bad row (CSV row, malformed
// application, unknown prefecture). Counted, never aborts the run.
type ValidationError struct {
	Row    string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: row %s: %s", e.Row, e.Detail)
}

// ScoringError marks a single-pair scoring failure. The pair is
// zero-scored and the run proceeds.
type ScoringError struct {
	UserID int64
	JobID  int64
	Err    error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring user=%d job=%d: %v", e.UserID, e.JobID, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// SectionError marks a slate invariant violation (duplicate job across
// sections, category over quota). Fails the user, not the run.
type SectionError struct {
	UserID int64
	Detail string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("section user=%d: %s", e.UserID, e.Detail)
}

// TimeoutError marks a phase or scheduled job that ran over its
// budget. The scheduler's retry policy decides what happens next.
type TimeoutError struct {
	What  string
	Limit string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %s exceeded %s", e.What, e.Limit)
}

// DependencyError marks a scheduled job whose upstream did not complete
// in the current window; the job stays pending.
type DependencyError struct {
	JobID     string
	DependsOn string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency: job %s waiting on %s", e.JobID, e.DependsOn)
}

// KindOf classifies an error into the taxonomy for summary counting.
func KindOf(err error) ErrorKind {
	var (
		ce *ConfigError
		re *RepoError
		ve *ValidationError
		se *ScoringError
		xe *SectionError
		te *TimeoutError
		de *DependencyError
	)
	switch {
	case errors.As(err, &ce):
		return KindConfig
	case errors.As(err, &re):
		return KindRepo
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &se):
		return KindScoring
	case errors.As(err, &xe):
		return KindSection
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.As(err, &de):
		return KindDependency
	default:
		return ErrorKind("other")
	}
}
