// Bounded exponential-backoff retry for network-facing operations.

package retry

import (
	"errors"
	"math"
	"time"

	"github.com/ternarybob/arbor"
)

// ErrStopped is returned when the policy's stop check aborts the retry loop
var ErrStopped = errors.New("retry aborted: stop requested")

// sleepFn is swapped out in tests
var sleepFn = time.Sleep

// permanentError marks an error as non-retryable regardless of classification
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps an error so the policy propagates it without further
// attempts. Use for failures where repetition cannot succeed
// (authentication, validation, missing configuration).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err carries the Permanent marker
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Policy wraps fallible operations with bounded exponential-backoff retry.
// The zero value is unusable; use DefaultPolicy or fill the fields.
type Policy struct {
	// MaxAttempts is the total attempt count including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// BackoffBase is the base for the backoff computation: the sleep after
	// attempt n is BackoffBase**n seconds.
	BackoffBase float64

	// IsRetryable classifies errors. When nil, every error except those
	// wrapped with Permanent is retried.
	IsRetryable func(error) bool

	// StopCheck, when non-nil, is consulted between attempts; returning
	// true aborts the loop with ErrStopped wrapping the last error.
	StopCheck func() bool

	// Logger, when non-nil, records each retry at warn level
	Logger arbor.ILogger
}

// DefaultPolicy returns the policy the workers use unless configured otherwise
func DefaultPolicy(logger arbor.ILogger) Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: 2,
		Logger:      logger,
	}
}

// Do calls fn, retrying per the policy. The error from the final attempt is
// returned when the budget is exhausted.
func (p Policy) Do(fn func() error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if IsPermanent(err) {
			return err
		}
		if p.IsRetryable != nil && !p.IsRetryable(err) {
			return err
		}
		if attempt == maxAttempts {
			return err
		}
		if p.StopCheck != nil && p.StopCheck() {
			return errors.Join(ErrStopped, err)
		}

		wait := p.backoff(attempt)
		if p.Logger != nil {
			p.Logger.Warn().
				Int("attempt", attempt).
				Int("max_attempts", maxAttempts).
				Dur("wait", wait).
				Err(err).
				Msg("Retrying after transient failure")
		}
		sleepFn(wait)
	}
	return err
}

// Wrap decorates fn with the policy. The returned function shares the exact
// code path with Do, so both call styles behave identically.
func (p Policy) Wrap(fn func() error) func() error {
	return func() error {
		return p.Do(fn)
	}
}

// backoff computes BackoffBase**attempt seconds, capped so realistic
// attempt counts cannot overflow the duration
func (p Policy) backoff(attempt int) time.Duration {
	base := p.BackoffBase
	if base <= 1 {
		base = 2
	}
	secs := math.Pow(base, float64(attempt))
	const maxBackoff = time.Hour
	d := time.Duration(secs * float64(time.Second))
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
