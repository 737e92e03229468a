package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fastConfig keeps test backoffs short.
func fastConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds without retries", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("retries transient failures", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 calls, got %d", calls)
		}
	})

	t.Run("exhausts retries", func(t *testing.T) {
		cause := errors.New("still broken")
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return cause
		})
		if !errors.Is(err, ErrMaxRetries) {
			t.Errorf("expected ErrMaxRetries, got %v", err)
		}
		if !errors.Is(err, cause) {
			t.Error("expected the cause to be wrapped")
		}
		if calls != 4 {
			t.Errorf("expected 4 calls (1 + 3 retries), got %d", calls)
		}

		var re *Error
		if !errors.As(err, &re) {
			t.Fatal("expected *Error")
		}
		if re.Attempts != 4 {
			t.Errorf("expected 4 attempts recorded, got %d", re.Attempts)
		}
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := Do(ctx, fastConfig(), func(context.Context) error {
			calls++
			return MarkNotRetryable(errors.New("bad input"))
		})
		if !errors.Is(err, ErrNotRetryable) {
			t.Errorf("expected ErrNotRetryable, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("custom predicate", func(t *testing.T) {
		target := errors.New("special")
		cfg := fastConfig()
		cfg.IsRetryable = func(err error) bool { return !errors.Is(err, target) }

		calls := 0
		err := Do(ctx, cfg, func(context.Context) error {
			calls++
			return target
		})
		if !errors.Is(err, ErrNotRetryable) {
			t.Errorf("expected ErrNotRetryable, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})

	t.Run("cancelled context stops the loop", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		calls := 0
		err := Do(cancelCtx, fastConfig(), func(context.Context) error {
			calls++
			cancel()
			return errors.New("transient")
		})
		if !errors.Is(err, ErrContextCanceled) {
			t.Errorf("expected ErrContextCanceled, got %v", err)
		}
		if calls != 1 {
			t.Errorf("expected 1 call, got %d", calls)
		}
	})
}

func TestDoWithResult(t *testing.T) {
	ctx := context.Background()

	calls := 0
	result, err := DoWithResult(ctx, fastConfig(), func(context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("transient")
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" {
		t.Errorf("expected 'done', got %q", result)
	}
}

func TestDefaultIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unknown error", errors.New("mystery"), true},
		{"marked not retryable", MarkNotRetryable(errors.New("x")), false},
		{"marked retryable", MarkRetryable(errors.New("x")), true},
		{"sentinel not retryable", ErrNotRetryable, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DefaultIsRetryable(tc.err); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestMarkNil(t *testing.T) {
	if MarkNotRetryable(nil) != nil {
		t.Error("MarkNotRetryable(nil) should be nil")
	}
	if MarkRetryable(nil) != nil {
		t.Error("MarkRetryable(nil) should be nil")
	}
}
