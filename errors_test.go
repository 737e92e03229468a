package postbox

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rbaliyan/postbox/store"
)

func TestErrorWrapping(t *testing.T) {
	t.Run("package errors wrap store errors", func(t *testing.T) {
		cases := []struct {
			name     string
			err      error
			storeErr error
		}{
			{"ErrNotFound", ErrNotFound, store.ErrNotFound},
			{"ErrNoReceiver", ErrNoReceiver, store.ErrEmptyReceivers},
			{"ErrNotConnected", ErrNotConnected, store.ErrNotConnected},
			{"ErrAlreadyConnected", ErrAlreadyConnected, store.ErrAlreadyConnected},
			{"ErrInvalidID", ErrInvalidID, store.ErrInvalidID},
			{"ErrInvalidPage", ErrInvalidPage, store.ErrInvalidPage},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				if !errors.Is(tc.err, tc.storeErr) {
					t.Errorf("%v should wrap %v", tc.err, tc.storeErr)
				}
			})
		}
	})
}

func TestNoReceiverError(t *testing.T) {
	err := &NoReceiverError{Sender: "alice"}

	t.Run("message includes sender", func(t *testing.T) {
		if !strings.Contains(err.Error(), "alice") {
			t.Errorf("expected sender in message, got %q", err.Error())
		}
	})

	t.Run("unwraps to sentinels", func(t *testing.T) {
		if !errors.Is(err, ErrNoReceiver) {
			t.Error("should match ErrNoReceiver")
		}
		if !errors.Is(err, store.ErrEmptyReceivers) {
			t.Error("should match store.ErrEmptyReceivers")
		}
	})

	t.Run("IsNoReceiver extracts sender through wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("send failed: %w", err)
		nre, ok := IsNoReceiver(wrapped)
		if !ok {
			t.Fatal("expected IsNoReceiver to match wrapped error")
		}
		if nre.Sender != "alice" {
			t.Errorf("expected sender 'alice', got %q", nre.Sender)
		}
	})

	t.Run("IsNoReceiver rejects other errors", func(t *testing.T) {
		if _, ok := IsNoReceiver(ErrNotFound); ok {
			t.Error("ErrNotFound should not match")
		}
		if _, ok := IsNoReceiver(nil); ok {
			t.Error("nil should not match")
		}
	})
}

func TestEventPublishError(t *testing.T) {
	underlying := errors.New("redis: connection refused")
	err := &EventPublishError{Event: "MailSent", ID: "text-123", Err: underlying}

	t.Run("message includes event and ID", func(t *testing.T) {
		msg := err.Error()
		if !strings.Contains(msg, "MailSent") || !strings.Contains(msg, "text-123") {
			t.Errorf("expected event and ID in message, got %q", msg)
		}
	})

	t.Run("unwraps to the publish error", func(t *testing.T) {
		if !errors.Is(err, underlying) {
			t.Error("should unwrap to the underlying error")
		}
	})

	t.Run("IsEventPublishError extracts details", func(t *testing.T) {
		epe, ok := IsEventPublishError(fmt.Errorf("inbox: %w", err))
		if !ok {
			t.Fatal("expected match through wrapping")
		}
		if epe.ID != "text-123" {
			t.Errorf("expected ID 'text-123', got %q", epe.ID)
		}
	})
}

func TestIsRetryableError(t *testing.T) {
	t.Run("permanent errors", func(t *testing.T) {
		permanent := []error{
			ErrNotFound,
			ErrUnauthorized,
			ErrNoReceiver,
			ErrInvalidID,
			ErrInvalidPage,
			ErrBodyTooLarge,
			ErrTooManyReceivers,
			ErrInvalidReceiver,
			ErrInvalidUserID,
			&NoReceiverError{Sender: "a"},
			store.ErrNotFound,
			store.ErrEmptyReceivers,
		}
		for _, err := range permanent {
			if IsRetryableError(err) {
				t.Errorf("%v should not be retryable", err)
			}
		}
	})

	t.Run("retryable errors", func(t *testing.T) {
		retryable := []error{
			ErrNotConnected,
			store.ErrNotConnected,
			store.ErrTransactionFailed,
			errors.New("dial tcp: i/o timeout"),
		}
		for _, err := range retryable {
			if !IsRetryableError(err) {
				t.Errorf("%v should be retryable", err)
			}
		}
	})

	t.Run("nil is not retryable", func(t *testing.T) {
		if IsRetryableError(nil) {
			t.Error("nil should not be retryable")
		}
	})

	t.Run("wrapped permanent errors stay permanent", func(t *testing.T) {
		if IsRetryableError(fmt.Errorf("get envelope: %w", store.ErrNotFound)) {
			t.Error("wrapped ErrNotFound should not be retryable")
		}
	})
}
