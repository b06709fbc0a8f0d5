package transport

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts    = 3
	defaultPause          = 2 * time.Second
	defaultRateLimitPause = 5 * time.Second
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy is the bounded in-place retry applied to a single send.
type Policy struct {
	MaxAttempts    int
	Pause          time.Duration
	RateLimitPause time.Duration
	Sleep          SleepFunc
}

// DefaultPolicy returns 3 attempts, a 2s pause for transient failures and
// a 5s pause for rate limiting.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    defaultMaxAttempts,
		Pause:          defaultPause,
		RateLimitPause: defaultRateLimitPause,
		Sleep:          SleepWithContext,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempt bound is reached. It returns the number of attempts made. The
// final error is always an *Error carrying the attempt count.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, fn func(attempt int) error) (int, error) {
	p = p.withDefaults()

	var lastErr *Error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return attempt, nil
		}

		lastErr = classified(err)
		if !lastErr.Reason.Retryable() {
			return attempt, lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		delay := p.Pause
		if lastErr.Reason == ReasonRateLimited {
			delay = p.RateLimitPause
		}
		logger.Info("send failed, retrying",
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"reason", string(lastErr.Reason),
			"delay", delay,
			"error", lastErr,
		)
		if err := p.Sleep(ctx, delay); err != nil {
			lastErr.Attempts = attempt
			return attempt, lastErr
		}
	}

	lastErr.Attempts = p.MaxAttempts
	return p.MaxAttempts, lastErr
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.Sleep == nil {
		p.Sleep = SleepWithContext
	}
	return p
}

func classified(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Wrap(ReasonUnknown, err)
}

// SleepWithContext waits for the specified duration or until the context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
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
