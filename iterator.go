package postbox

import (
	"context"
	"errors"

	"github.com/rbaliyan/postbox/store"
)

// ErrIteratorOutOfBounds is returned when Envelope() is called without a
// successful Next().
var ErrIteratorOutOfBounds = errors.New("postbox: iterator out of bounds - call Next() first")

// EnvelopeIterator provides streaming access to envelopes, fetching pages
// lazily. Use Next() to advance and Envelope() to read the current record.
// Prefer the iterator over Inbox/Outbox when processing large mailboxes one
// envelope at a time; prefer the page methods when building paginated UIs
// that need total counts.
//
// The iterator holds no resources requiring cleanup - simply stop calling
// Next() when done. It is NOT safe for concurrent use; create one iterator
// per goroutine.
type EnvelopeIterator interface {
	// Next advances to the next envelope.
	// Returns (true, nil) if an envelope is available.
	// Returns (false, nil) when iteration is done.
	// Returns (false, error) if fetching failed or the service disconnected.
	Next(ctx context.Context) (bool, error)

	// Envelope returns the current envelope. Must be called after a Next()
	// that returned (true, nil); returns ErrIteratorOutOfBounds otherwise.
	Envelope() (Envelope, error)
}

// StreamOptions configures iterator batch fetching.
type StreamOptions struct {
	// BatchSize is the number of envelopes fetched per store round-trip.
	// Larger batches reduce round-trips but use more memory. Default: 100.
	BatchSize int
}

// defaultStreamBatchSize is used when StreamOptions leaves BatchSize unset.
const defaultStreamBatchSize = 100

// pageFetchFunc fetches one page of envelopes.
type pageFetchFunc func(ctx context.Context, page store.PageRequest) (*store.EnvelopePage, error)

// envelopeIterator walks pages returned by fetch. Pagination is page-number
// based to match the store API; envelopes deleted mid-iteration can shift
// pages, so a concurrent delete may cause a skipped or repeated envelope.
type envelopeIterator struct {
	mailbox   *userMailbox
	fetch     pageFetchFunc
	batchSize int
	page      int
	batch     []store.Envelope
	batchIdx  int
	done      bool
}

func (it *envelopeIterator) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}

	// The service may disconnect between batches.
	if err := it.mailbox.checkAccess(); err != nil {
		it.done = true
		return false, err
	}

	if it.batchIdx >= len(it.batch) {
		// A short batch means the previous fetch hit the end.
		if it.page > 0 && len(it.batch) < it.batchSize {
			it.done = true
			return false, nil
		}

		it.page++
		result, err := it.fetch(ctx, store.PageRequest{Page: it.page, PerPage: it.batchSize})
		if err != nil {
			it.done = true
			return false, err
		}

		it.batch = result.Envelopes
		it.batchIdx = 0

		if len(it.batch) == 0 {
			it.done = true
			return false, nil
		}
	}

	it.batchIdx++
	return true, nil
}

func (it *envelopeIterator) Envelope() (Envelope, error) {
	if it.batchIdx <= 0 || it.batchIdx > len(it.batch) {
		return Envelope{}, ErrIteratorOutOfBounds
	}
	return it.batch[it.batchIdx-1], nil
}

// newEnvelopeIterator creates an iterator over fetch with the given options.
func newEnvelopeIterator(m *userMailbox, opts StreamOptions, fetch pageFetchFunc) *envelopeIterator {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = defaultStreamBatchSize
	}
	return &envelopeIterator{
		mailbox:   m,
		fetch:     fetch,
		batchSize: batchSize,
	}
}

// StreamInbox returns an iterator over received envelopes, newest first,
// restricted by filter. Unlike Inbox, streaming never marks envelopes
// viewed - it reads through the side-effect-free peek path.
func (m *userMailbox) StreamInbox(ctx context.Context, filter StatusFilter, opts StreamOptions) (EnvelopeIterator, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return newEnvelopeIterator(m, opts, func(ctx context.Context, page store.PageRequest) (*store.EnvelopePage, error) {
		return m.service.store.PeekInbox(ctx, m.userID, page, filter)
	}), nil
}

// StreamOutbox returns an iterator over sent envelopes, newest first.
func (m *userMailbox) StreamOutbox(ctx context.Context, opts StreamOptions) (EnvelopeIterator, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}
	return newEnvelopeIterator(m, opts, func(ctx context.Context, page store.PageRequest) (*store.EnvelopePage, error) {
		return m.service.store.Outbox(ctx, m.userID, page)
	}), nil
}
