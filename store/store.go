// Package store provides interfaces and types for mail storage.
// Implementations are in store/memory, store/postgres, and store/mongo
// subpackages.
//
// # Architectural Principle: Transactional Batches, No Distributed Locks
//
// All multi-row operations are expressed as single atomic store operations
// rather than sequences the caller must coordinate:
//
//  1. CreateMail inserts the text row and every envelope row in one database
//     transaction. The text insert is sequenced before the envelope inserts
//     (foreign-key dependency); either everything is persisted or nothing is.
//
//  2. ViewInbox couples the page read with the viewed-marking write inside
//     one transaction. Internally it is two composable steps (fetch page,
//     mark ids) so a future peek-without-marking variant can reuse the fetch
//     alone; externally it is a single atomic operation.
//
//  3. MarkViewed is idempotent by construction - it only ever writes
//     StatusViewed, so concurrent full-page markings converge on the same
//     state and no locking beyond the backend's defaults is required.
//
// Isolation between a concurrent DeleteEnvelope and ViewInbox on the same
// envelope is the backend's concern; implementations must not let a status
// update reintroduce a deleted row.
package store

import (
	"context"
	"time"
)

// Store is the storage interface for the mail engine.
//
// All operations must be safe for concurrent use. Implementations must use
// database-level atomicity (transactions, atomic operations) rather than
// external locking mechanisms. See package documentation for details.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Text operations - immutable, write-once bodies
	TextStore

	// Envelope operations - the addressable, stateful delivery units
	EnvelopeStore
}

// TextStore provides read access to stored mail texts. Texts are only ever
// written through CreateMail; there is no standalone insert because a text
// without envelopes must not exist.
type TextStore interface {
	// GetText retrieves a text by ID.
	// Returns ErrNotFound if the text doesn't exist.
	GetText(ctx context.Context, id string) (MailText, error)

	// PurgeOrphanTexts deletes up to limit texts created before olderThan
	// that no envelope references anymore. DeleteEnvelope never removes the
	// shared text, so texts whose last envelope was deleted linger until a
	// purge. The olderThan cutoff keeps the purge away from texts whose
	// envelopes may still be in flight. Returns the number of texts deleted.
	PurgeOrphanTexts(ctx context.Context, olderThan time.Time, limit int) (int64, error)
}

// EnvelopeReader provides read operations for envelopes.
type EnvelopeReader interface {
	// GetEnvelope retrieves a single envelope by ID.
	// Returns ErrNotFound if the envelope doesn't exist.
	GetEnvelope(ctx context.Context, id string) (Envelope, error)

	// PeekInbox returns a page of envelopes addressed to receiver, newest
	// first, restricted by filter. Pure read, no side effects. This is the
	// read half of ViewInbox.
	PeekInbox(ctx context.Context, receiver string, page PageRequest, filter StatusFilter) (*EnvelopePage, error)

	// Outbox returns a page of envelopes sent by sender, newest first.
	// No status filter and never any side effect.
	Outbox(ctx context.Context, sender string, page PageRequest) (*EnvelopePage, error)

	// CountByReceiver returns the number of envelopes addressed to receiver
	// matching the filter.
	CountByReceiver(ctx context.Context, receiver string, filter StatusFilter) (int64, error)

	// CountBySender returns the number of envelopes sent by sender.
	CountBySender(ctx context.Context, sender string) (int64, error)
}

// EnvelopeWriter provides mutation operations for envelopes.
type EnvelopeWriter interface {
	// CreateMail atomically inserts one MailText and one StatusNotViewed
	// envelope per receiver, all referencing that text. Duplicate receivers
	// produce duplicate envelopes; order is preserved.
	//
	// This operation MUST be atomic - either the text and every envelope are
	// persisted, or none are. Returns ErrEmptyReceivers when data carries no
	// receivers (nothing is written).
	CreateMail(ctx context.Context, data MailData) (*Delivery, error)

	// ViewInbox fetches a page exactly like PeekInbox and, when the page is
	// non-empty, marks every envelope on it StatusViewed - read and write in
	// the same transaction. Already-viewed envelopes on the page are written
	// again (a no-op in effect); an empty page issues no write.
	ViewInbox(ctx context.Context, receiver string, page PageRequest, filter StatusFilter) (*EnvelopePage, error)

	// MarkViewed transitions the given envelopes to StatusViewed and stamps
	// ViewedAt on rows not already viewed. The transition is one-directional;
	// there is no way to mark an envelope unread. Missing IDs are skipped.
	// Returns the number of rows written.
	MarkViewed(ctx context.Context, ids []string) (int64, error)

	// DeleteEnvelope removes exactly the envelope with the given ID.
	// The referenced text is left in place - other envelopes may still
	// reference it. Returns ErrNotFound if the envelope doesn't exist.
	DeleteEnvelope(ctx context.Context, id string) error
}

// EnvelopeStore provides operations for delivery envelopes.
//
// Composed of:
//   - EnvelopeReader: Read operations (GetEnvelope, PeekInbox, Outbox, CountByReceiver)
//   - EnvelopeWriter: Mutations (CreateMail, ViewInbox, MarkViewed, DeleteEnvelope)
type EnvelopeStore interface {
	EnvelopeReader
	EnvelopeWriter
}
