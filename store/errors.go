package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is returned when a text or envelope cannot be found.
	ErrNotFound = errors.New("store: not found")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrEmptyReceivers is returned when a send carries no receivers.
	ErrEmptyReceivers = errors.New("store: empty receivers")

	// ErrInvalidPage is returned when a page request is malformed
	// (page < 1 or per-page < 1).
	ErrInvalidPage = errors.New("store: invalid page request")

	// ErrTransactionFailed is returned when a database transaction fails.
	// This indicates the atomic operation could not complete and no changes
	// were made.
	ErrTransactionFailed = errors.New("store: transaction failed")
)

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidID)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
