package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/postbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ViewInbox fetches a page and marks every envelope on it viewed.
// On replica sets the read and the write share one transaction; on
// standalone deployments the operations run sequentially, which is safe
// because the marking is idempotent.
func (s *Store) ViewInbox(ctx context.Context, receiver string, page store.PageRequest, filter store.StatusFilter) (*store.EnvelopePage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	match := statusFilter(bson.M{"receiver": receiver}, filter)

	session, err := s.client.StartSession()
	if err != nil {
		return s.viewInboxFallback(ctx, match, page)
	}
	defer session.EndSession(ctx)

	var result *store.EnvelopePage
	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		var viewErr error
		result, viewErr = s.viewInboxOnce(sessCtx, match, page)
		return nil, viewErr
	})
	if txErr != nil {
		if isTransactionNotSupported(txErr) {
			return s.viewInboxFallback(ctx, match, page)
		}
		return nil, txErr
	}

	return result, nil
}

// viewInboxOnce performs the fetch-then-mark sequence within ctx.
func (s *Store) viewInboxOnce(ctx context.Context, match bson.M, page store.PageRequest) (*store.EnvelopePage, error) {
	result, err := s.fetchPage(ctx, match, page)
	if err != nil {
		return nil, err
	}
	if len(result.Envelopes) == 0 {
		return result, nil
	}

	now := time.Now().UTC()
	if err := s.markViewedIDs(ctx, result.IDs(), now); err != nil {
		return nil, err
	}

	for i := range result.Envelopes {
		if result.Envelopes[i].ViewedAt == nil {
			t := now
			result.Envelopes[i].ViewedAt = &t
		}
		result.Envelopes[i].Status = store.StatusViewed
	}
	return result, nil
}

// viewInboxFallback runs the fetch-then-mark sequence without a transaction.
func (s *Store) viewInboxFallback(ctx context.Context, match bson.M, page store.PageRequest) (*store.EnvelopePage, error) {
	return s.viewInboxOnce(ctx, match, page)
}

// markViewedIDs writes the viewed transition for the given envelope IDs.
// Two updates keep viewed_at stable: the timestamp is only stamped on
// envelopes not already viewed, then the status flips for the whole set.
func (s *Store) markViewedIDs(ctx context.Context, ids []string, now time.Time) error {
	stamp := bson.M{
		"_id":       bson.M{"$in": ids},
		"viewed_at": bson.M{"$exists": false},
	}
	if _, err := s.envelopes.UpdateMany(ctx, stamp, bson.M{
		"$set": bson.M{"viewed_at": now},
	}); err != nil {
		return fmt.Errorf("stamp viewed_at: %w", err)
	}

	if _, err := s.envelopes.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{
		"$set": bson.M{"status": string(store.StatusViewed)},
	}); err != nil {
		return fmt.Errorf("mark viewed: %w", err)
	}
	return nil
}

// MarkViewed transitions the given envelopes to viewed. Missing IDs are
// skipped. Returns the number of documents written.
func (s *Store) MarkViewed(ctx context.Context, ids []string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	now := time.Now().UTC()
	if _, err := s.envelopes.UpdateMany(ctx, bson.M{
		"_id":       bson.M{"$in": ids},
		"viewed_at": bson.M{"$exists": false},
	}, bson.M{
		"$set": bson.M{"viewed_at": now},
	}); err != nil {
		return 0, fmt.Errorf("stamp viewed_at: %w", err)
	}

	result, err := s.envelopes.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, bson.M{
		"$set": bson.M{"status": string(store.StatusViewed)},
	})
	if err != nil {
		return 0, fmt.Errorf("mark viewed: %w", err)
	}
	return result.MatchedCount, nil
}

// PurgeOrphanTexts deletes up to limit unreferenced texts created before
// olderThan. Candidates are scanned in batches and each one is re-checked
// against the envelopes collection before deletion.
func (s *Store) PurgeOrphanTexts(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	findOpts := mongoopts.Find().
		SetProjection(bson.M{"_id": 1}).
		SetLimit(int64(limit))

	cursor, err := s.texts.Find(ctx, bson.M{"created_at": bson.M{"$lt": olderThan}}, findOpts)
	if err != nil {
		return 0, fmt.Errorf("find old texts: %w", err)
	}
	defer cursor.Close(ctx)

	var candidates []string
	for cursor.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return 0, fmt.Errorf("decode text id: %w", err)
		}
		candidates = append(candidates, doc.ID)
	}
	if err := cursor.Err(); err != nil {
		return 0, fmt.Errorf("cursor: %w", err)
	}

	var orphans []string
	for _, id := range candidates {
		refs, err := s.envelopes.CountDocuments(ctx, bson.M{"text_id": id})
		if err != nil {
			return 0, fmt.Errorf("count text refs: %w", err)
		}
		if refs == 0 {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	result, err := s.texts.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": orphans}})
	if err != nil {
		return 0, fmt.Errorf("delete orphan texts: %w", err)
	}
	return result.DeletedCount, nil
}

// DeleteEnvelope removes exactly one envelope. The referenced text stays.
func (s *Store) DeleteEnvelope(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	result, err := s.envelopes.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete envelope: %w", err)
	}
	if result.DeletedCount == 0 {
		return store.ErrNotFound
	}

	return nil
}
