// Package retry provides exponential backoff retry logic for transient
// failures. Pair it with postbox.IsRetryableError to retry mail operations:
//
//	err := retry.Do(ctx, retry.Config{IsRetryable: postbox.IsRetryableError},
//	    func(ctx context.Context) error {
//	        _, err := mb.Send(ctx, receivers, body)
//	        return err
//	    })
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Sentinel errors.
var (
	// ErrNotRetryable marks errors that must stop retry attempts.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is returned when every attempt has failed.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled wraps context cancellation during a retry loop.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Config configures retry behavior. The zero value gets sensible defaults:
// 3 retries, 100ms initial backoff doubling up to 30s, 10% jitter.
type Config struct {
	// MaxRetries is the number of retry attempts after the first try.
	// Zero means execute once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// Multiplier grows the backoff after each retry.
	Multiplier float64

	// Jitter randomizes each backoff by +/- this fraction (0 to 1) to
	// avoid synchronized retries.
	Jitter float64

	// IsRetryable decides whether an error is worth another attempt.
	// Nil means DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultConfig returns a Config with the package defaults filled in.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		IsRetryable:    DefaultIsRetryable,
	}
}

// Do executes fn, retrying transient failures according to cfg.
// The returned error is a *Error carrying the last failure and the
// attempt count.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = withDefaults(cfg)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return &Error{Cause: lastErr, Attempts: attempt, Err: ErrContextCanceled}
			}
			return ctx.Err()
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return &Error{Cause: err, Attempts: attempt + 1, Err: ErrNotRetryable}
		}

		// No sleep after the final attempt.
		if attempt < cfg.MaxRetries {
			select {
			case <-ctx.Done():
				return &Error{Cause: lastErr, Attempts: attempt + 1, Err: ErrContextCanceled}
			case <-time.After(backoff(cfg, attempt)):
			}
		}
	}

	return &Error{Cause: lastErr, Attempts: cfg.MaxRetries + 1, Err: ErrMaxRetries}
}

// DoWithResult executes fn with retries and returns its result value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// Error reports a failed retry operation.
type Error struct {
	// Cause is the last error returned by the function.
	Cause error

	// Attempts is the number of attempts made.
	Attempts int

	// Err is ErrMaxRetries, ErrNotRetryable, or ErrContextCanceled.
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// backoff computes the delay before the retry following attempt.
func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxBackoff) {
		d = float64(cfg.MaxBackoff)
	}
	if cfg.Jitter > 0 {
		spread := d * cfg.Jitter
		d = d - spread + rand.Float64()*2*spread
	}
	return time.Duration(d)
}

// withDefaults fills zero fields with the package defaults.
func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Jitter > 1 {
		cfg.Jitter = 1
	}
	if cfg.IsRetryable == nil {
		cfg.IsRetryable = DefaultIsRetryable
	}
	return cfg
}

// DefaultIsRetryable treats unknown errors as transient. Errors marked with
// MarkNotRetryable, or exposing a Retryable() bool method that returns
// false, stop the loop.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) {
		return false
	}
	var retryable interface{ Retryable() bool }
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}
	return true
}

// MarkNotRetryable wraps an error so DefaultIsRetryable stops retrying it.
func MarkNotRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{cause: err, retryable: false}
}

// MarkRetryable wraps an error to explicitly allow retries.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &marked{cause: err, retryable: true}
}

type marked struct {
	cause     error
	retryable bool
}

func (e *marked) Error() string   { return e.cause.Error() }
func (e *marked) Unwrap() error   { return e.cause }
func (e *marked) Retryable() bool { return e.retryable }
