package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// disable real sleeping for the whole package's tests
func init() {
	sleepFn = func(time.Duration) {}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5, BackoffBase: 2}.Do(func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Policy{MaxAttempts: 4, BackoffBase: 2}.Do(func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, calls, "an always-failing fn is invoked exactly MaxAttempts times")
}

func TestDo_LastErrorPropagates(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3, BackoffBase: 2}.Do(func() error {
		calls++
		return errors.New(string(rune('a' + calls - 1)))
	})
	require.Error(t, err)
	assert.Equal(t, "c", err.Error(), "the error from the final attempt is the one returned")
}

func TestDo_SucceedsMidway(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5, BackoffBase: 2}.Do(func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentShortCircuits(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 5, BackoffBase: 2}.Do(func() error {
		calls++
		return Permanent(errors.New("401 unauthorized"))
	})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, calls, "non-retryable errors are invoked exactly once")
}

func TestDo_ClassifierShortCircuits(t *testing.T) {
	notFound := errors.New("not found")
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		BackoffBase: 2,
		IsRetryable: func(err error) bool { return !errors.Is(err, notFound) },
	}
	err := p.Do(func() error {
		calls++
		return notFound
	})
	assert.ErrorIs(t, err, notFound)
	assert.Equal(t, 1, calls)
}

func TestDo_StopCheckAborts(t *testing.T) {
	calls := 0
	stopped := false
	p := Policy{
		MaxAttempts: 5,
		BackoffBase: 2,
		StopCheck:   func() bool { return stopped },
	}
	err := p.Do(func() error {
		calls++
		if calls == 1 {
			stopped = true
		}
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, 1, calls, "no further attempts after the stop check trips")
}

func TestDo_ZeroAttemptsTreatedAsOne(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 0, BackoffBase: 2}.Do(func() error {
		calls++
		return errors.New("boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWrap_SharesPolicyLogic(t *testing.T) {
	calls := 0
	wrapped := Policy{MaxAttempts: 3, BackoffBase: 2}.Wrap(func() error {
		calls++
		return errors.New("boom")
	})

	require.Error(t, wrapped())
	assert.Equal(t, 3, calls)

	// A second invocation gets a fresh budget
	require.Error(t, wrapped())
	assert.Equal(t, 6, calls)
}

func TestBackoff_NoOverflow(t *testing.T) {
	p := Policy{MaxAttempts: 10, BackoffBase: 2}
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.backoff(attempt)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Hour)
	}
	// Absurd inputs still stay bounded
	assert.Equal(t, time.Hour, Policy{BackoffBase: 10}.backoff(300))
}

func TestPermanent_NilPassthrough(t *testing.T) {
	assert.NoError(t, Permanent(nil))
	assert.False(t, IsPermanent(nil))
}
