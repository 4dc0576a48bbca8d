// Package retry runs an operation under a bounded attempt budget with
// exponential backoff between failed attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy bounds the attempts of one operation.
type Policy struct {
	// MaxAttempts is the total number of attempts (1 = no retries).
	MaxAttempts int
	// BaseBackoff is the delay after the first failed attempt; it doubles after each failure.
	BaseBackoff time.Duration
	// MaxBackoff caps a single delay. Zero means uncapped.
	MaxBackoff time.Duration
	// AttemptTimeout bounds every attempt. Zero means only the parent context applies.
	AttemptTimeout time.Duration
	// Sleep is used between attempts. Nil means a timer honouring ctx.
	Sleep SleepFunc
}

// DefaultPolicy is three attempts backing off 1s then 2s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: time.Second,
	}
}

// Attempts returns the effective attempt budget (at least one).
func (p Policy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the wait after failed attempt n (0-based): BaseBackoff * 2^n.
func (p Policy) Delay(n int) time.Duration {
	if p.BaseBackoff <= 0 || n < 0 {
		return 0
	}
	d := p.BaseBackoff
	for i := 0; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Schedule returns the delays slept between attempts when every attempt fails.
// It has one entry fewer than the attempt budget.
func (p Policy) Schedule() []time.Duration {
	n := p.Attempts() - 1
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = p.Delay(i)
	}
	return out
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Do calls op until it succeeds, returns a permanent error, the budget is
// spent or ctx is done. attempt is 0-based. A per-attempt timeout is retried
// like any other failure.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts()
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return fmt.Errorf("%w (last attempt: %v)", err, last)
			}
			return err
		}

		err := runAttempt(ctx, p.AttemptTimeout, attempt, op)
		if err == nil {
			return nil
		}
		var pe *permanentError
		if errors.As(err, &pe) {
			return pe.err
		}
		last = err

		if attempt == attempts-1 {
			break
		}
		if err := p.sleep(ctx, p.Delay(attempt)); err != nil {
			return fmt.Errorf("%w (last attempt: %v)", err, last)
		}
	}
	return &ExhaustedError{Attempts: attempts, Last: last}
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, op func(context.Context, int) error) error {
	if timeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx, attempt)
}
