package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/c360/dataports/errors"
)

// Policy describes how often and how patiently an operation is retried
type Policy struct {
	MaxAttempts  int           // Total attempts including the first, 0 means unbounded until ctx is done
	InitialDelay time.Duration // Delay before the second attempt
	MaxDelay     time.Duration // Upper bound of any delay
	Multiplier   float64       // Growth factor between delays
	Jitter       float64       // Fraction of the delay added at random, 0 to 1

	// Retryable decides whether err is worth another attempt. Defaults to
	// errors.IsTransient.
	Retryable func(err error) bool

	// OnRetry is called before sleeping with the failed attempt number
	OnRetry func(attempt int, delay time.Duration, err error)
}

// ErrExhausted is returned, wrapping the last failure, when every attempt failed
var ErrExhausted = stderrors.New("retry attempts exhausted")

// Default retries transient failures three times
func Default() Policy {
	return Policy{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Jitter:       0.25,
	}
}

// Startup retries for about half a minute, for dependencies that come up
// alongside the process
func Startup() Policy {
	return Policy{
		MaxAttempts:  15,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   1.5,
		Jitter:       0.25,
	}
}

func (p Policy) validate() error {
	switch {
	case p.MaxAttempts < 0:
		return fmt.Errorf("%w: max attempts %d", errors.ErrInvalidConfig, p.MaxAttempts)
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return fmt.Errorf("%w: negative delay", errors.ErrInvalidConfig)
	case p.MaxDelay > 0 && p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay below initial delay", errors.ErrInvalidConfig)
	case p.Multiplier != 0 && p.Multiplier < 1:
		return fmt.Errorf("%w: multiplier %.2f below 1", errors.ErrInvalidConfig, p.Multiplier)
	case p.Jitter < 0 || p.Jitter > 1:
		return fmt.Errorf("%w: jitter %.2f outside [0,1]", errors.ErrInvalidConfig, p.Jitter)
	}
	return nil
}

// delay returns the backoff after the given failed attempt
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	mult := p.Multiplier
	if mult == 0 {
		mult = 2
	}
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			d = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		d += d * p.Jitter * rand.Float64()
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, fails with an error the policy does not
// retry, runs out of attempts or ctx is done
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoWithResult(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoWithResult is Do for operations that produce a value
func DoWithResult[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := p.validate(); err != nil {
		return zero, errors.WrapInvalid(err, "retry", "Do", "check policy")
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = errors.IsTransient
	}

	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !retryable(err) {
			return zero, err
		}
		if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
			return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}

		wait := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled after %d attempts: %w", attempt, stderrors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
}
