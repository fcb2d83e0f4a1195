// Package retry centralises the exponential-backoff-with-jitter policy that
// §5 requires for every suspension point: object-store I/O, queue
// poll/publish, CRUD-store I/O, cache lookup, and audit-table I/O.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy configures a single shared retry behaviour.
type Policy struct {
	MaxAttempts  int
	InitialWait  time.Duration
	MaxWait      time.Duration
}

// DefaultPolicy matches the spec's "retried with exponential backoff and
// full jitter" language using backoff's default randomization factor.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialWait: 200 * time.Millisecond, MaxWait: 10 * time.Second}
}

func (p Policy) backoffWithContext(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialWait
	b.MaxInterval = p.MaxWait
	b.MaxElapsedTime = 0 // bounded by MaxAttempts instead of wall-clock
	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	withMax := backoff.WithMaxRetries(b, uint64(retries))
	return backoff.WithContext(withMax, ctx)
}

// Do runs fn, retrying on error per the policy. It returns the last error
// once attempts are exhausted or ctx is cancelled.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	return backoff.Retry(fn, p.backoffWithContext(ctx))
}

// UnhandledError wraps an exhausted-retry failure with the infra error kind
// named in §7 ("Unhandled infra" — surfaces UnhandledAuditTableError /
// UnhandledSqsError / equivalent).
type UnhandledError struct {
	Kind string
	Err  error
}

func (e *UnhandledError) Error() string {
	return "unhandled " + e.Kind + ": " + e.Err.Error()
}

func (e *UnhandledError) Unwrap() error {
	return e.Err
}

// DoNamed runs Do and wraps an exhausted-retry failure as an UnhandledError
// tagged with kind (e.g. "AuditTableError", "SqsError").
func (p Policy) DoNamed(ctx context.Context, kind string, fn func() error) error {
	if err := p.Do(ctx, fn); err != nil {
		return &UnhandledError{Kind: kind, Err: err}
	}
	return nil
}
