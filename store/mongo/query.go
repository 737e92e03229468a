package mongo

import (
	"context"
	"fmt"

	"github.com/rbaliyan/postbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// statusFilter adds the status condition for a filter to a base match.
func statusFilter(match bson.M, filter store.StatusFilter) bson.M {
	switch filter {
	case store.FilterNotViewed:
		match["status"] = string(store.StatusNotViewed)
	case store.FilterViewed:
		match["status"] = string(store.StatusViewed)
	}
	return match
}

// fetchPage runs a count plus a sorted page find over the envelopes collection.
func (s *Store) fetchPage(ctx context.Context, match bson.M, page store.PageRequest) (*store.EnvelopePage, error) {
	total, err := s.envelopes.CountDocuments(ctx, match)
	if err != nil {
		return nil, fmt.Errorf("count envelopes: %w", err)
	}

	findOpts := mongoopts.Find().
		SetSort(bson.D{
			bson.E{Key: "created_at", Value: -1},
			bson.E{Key: "seq", Value: -1},
		}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.PerPage))

	cursor, err := s.envelopes.Find(ctx, match, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find envelopes: %w", err)
	}
	defer cursor.Close(ctx)

	var envelopes []store.Envelope
	for cursor.Next(ctx) {
		var doc envelopeDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		envelopes = append(envelopes, doc.envelope())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor: %w", err)
	}

	return &store.EnvelopePage{
		Envelopes: envelopes,
		Total:     total,
		Pages:     store.PageCount(total, page.PerPage),
		Page:      page.Page,
		PerPage:   page.PerPage,
	}, nil
}

// PeekInbox returns a page of envelopes for receiver without side effects.
func (s *Store) PeekInbox(ctx context.Context, receiver string, page store.PageRequest, filter store.StatusFilter) (*store.EnvelopePage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	match := statusFilter(bson.M{"receiver": receiver}, filter)
	return s.fetchPage(ctx, match, page)
}

// Outbox returns a page of envelopes sent by sender. Pure read.
func (s *Store) Outbox(ctx context.Context, sender string, page store.PageRequest) (*store.EnvelopePage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	return s.fetchPage(ctx, bson.M{"sender": sender}, page)
}

// CountByReceiver returns the number of envelopes for receiver matching the filter.
func (s *Store) CountByReceiver(ctx context.Context, receiver string, filter store.StatusFilter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	match := statusFilter(bson.M{"receiver": receiver}, filter)
	count, err := s.envelopes.CountDocuments(ctx, match)
	if err != nil {
		return 0, fmt.Errorf("count by receiver: %w", err)
	}
	return count, nil
}

// CountBySender returns the number of envelopes sent by sender.
func (s *Store) CountBySender(ctx context.Context, sender string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	count, err := s.envelopes.CountDocuments(ctx, bson.M{"sender": sender})
	if err != nil {
		return 0, fmt.Errorf("count by sender: %w", err)
	}
	return count, nil
}
