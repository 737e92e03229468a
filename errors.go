package postbox

import (
	"errors"
	"fmt"

	"github.com/rbaliyan/postbox/store"
)

// Sentinel errors for the postbox package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, postbox.ErrNotFound) will match both postbox-level
// and store-level "not found" errors.
var (
	// ErrNotFound is returned when a text or envelope cannot be found.
	// Wraps store.ErrNotFound for consistent error checking.
	ErrNotFound = fmt.Errorf("postbox: %w", store.ErrNotFound)

	// ErrUnauthorized is returned when a user doesn't have access to an envelope.
	ErrUnauthorized = errors.New("postbox: unauthorized")

	// ErrNoReceiver is returned when a send carries no receivers.
	// Wraps store.ErrEmptyReceivers for consistent error checking.
	// Use IsNoReceiver to recover the sender from the typed error.
	ErrNoReceiver = fmt.Errorf("postbox: %w", store.ErrEmptyReceivers)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("postbox: store is required")

	// ErrResolverRequired is returned when Broadcast is called without a
	// configured RecipientResolver.
	ErrResolverRequired = errors.New("postbox: recipient resolver is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("postbox: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("postbox: %w", store.ErrAlreadyConnected)

	// ErrInvalidID is returned when an invalid ID is provided.
	// Wraps store.ErrInvalidID for consistent error checking.
	ErrInvalidID = fmt.Errorf("postbox: %w", store.ErrInvalidID)

	// ErrInvalidPage is returned when a page request is malformed.
	// Wraps store.ErrInvalidPage for consistent error checking.
	ErrInvalidPage = fmt.Errorf("postbox: %w", store.ErrInvalidPage)

	// ErrBodyTooLarge is returned when a mail body exceeds the maximum size.
	ErrBodyTooLarge = errors.New("postbox: body too large")

	// ErrTooManyReceivers is returned when the receiver count exceeds the limit.
	ErrTooManyReceivers = errors.New("postbox: too many receivers")

	// ErrInvalidReceiver is returned when a receiver ID is invalid.
	ErrInvalidReceiver = errors.New("postbox: invalid receiver")

	// ErrInvalidUserID is returned when a user ID contains invalid characters.
	ErrInvalidUserID = errors.New("postbox: invalid user id")
)

// NoReceiverError is returned by Send and Broadcast when the receiver set is
// empty or nil. The send is rejected before anything is written. Sender
// identifies the mailbox that attempted the send.
type NoReceiverError struct {
	Sender string
}

func (e *NoReceiverError) Error() string {
	return fmt.Sprintf("postbox: no receivers for mail from %s", e.Sender)
}

func (e *NoReceiverError) Unwrap() error {
	return ErrNoReceiver
}

// IsNoReceiver checks if the error is a no-receiver error and returns details.
func IsNoReceiver(err error) (*NoReceiverError, bool) {
	var nre *NoReceiverError
	if errors.As(err, &nre) {
		return nre, true
	}
	return nil, false
}

// EventPublishError is returned when event publishing fails but the operation
// succeeded. The mail was sent/viewed/deleted, but the event notification
// failed. Check the ID field to identify which text or envelope this applies to.
type EventPublishError struct {
	Event string // The event name (e.g., "MailSent", "MailViewed")
	ID    string // The text or envelope ID the event was for
	Err   error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	return fmt.Sprintf("postbox: event %s publish failed for %s: %v", e.Event, e.ID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when eventErrorsFatal=true but you still want to know the operation succeeded.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both postbox-level and store-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Permanent errors that should not be retried
	permanentErrors := []error{
		ErrNotFound,
		ErrUnauthorized,
		ErrNoReceiver,
		ErrInvalidID,
		ErrInvalidPage,
		ErrBodyTooLarge,
		ErrTooManyReceivers,
		ErrInvalidReceiver,
		ErrInvalidUserID,
		store.ErrNotFound,
		store.ErrInvalidID,
		store.ErrEmptyReceivers,
		store.ErrInvalidPage,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	// Retryable errors
	retryableErrors := []error{
		ErrNotConnected,            // Connection can be re-established
		store.ErrNotConnected,      // Store connection can be re-established
		store.ErrTransactionFailed, // Transaction can be retried
	}
	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// For unknown errors, default to retryable (conservative approach)
	// as they might be transient network/timeout issues
	return true
}
