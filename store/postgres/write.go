package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/postbox/store"
)

// CreateMail atomically inserts one text and one envelope per receiver.
func (s *Store) CreateMail(ctx context.Context, data store.MailData) (*store.Delivery, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if len(data.Receivers) == 0 {
		return nil, store.ErrEmptyReceivers
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	createdAt := data.SentAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", store.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	text := store.MailText{
		ID:        uuid.New().String(),
		Content:   data.Body,
		CreatedAt: createdAt,
	}

	insertText := fmt.Sprintf(`
		INSERT INTO %s (id, content, created_at) VALUES ($1, $2, $3)
	`, s.textsTable())
	if _, err := tx.ExecContext(ctx, insertText, text.ID, text.Content, text.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert text: %w", err)
	}

	insertEnvelope := fmt.Sprintf(`
		INSERT INTO %s (id, sender, receiver, status, text_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, s.envelopesTable())

	delivery := &store.Delivery{
		Text:      text,
		Envelopes: make([]store.Envelope, 0, len(data.Receivers)),
	}
	for _, receiver := range data.Receivers {
		e := store.Envelope{
			ID:        uuid.New().String(),
			Sender:    data.Sender,
			Receiver:  receiver,
			Status:    store.StatusNotViewed,
			TextID:    text.ID,
			Body:      text.Content,
			CreatedAt: createdAt,
		}
		if _, err := tx.ExecContext(ctx, insertEnvelope,
			e.ID, e.Sender, e.Receiver, string(e.Status), e.TextID, e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("insert envelope: %w", err)
		}
		delivery.Envelopes = append(delivery.Envelopes, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", store.ErrTransactionFailed, err)
	}

	return delivery, nil
}

// ViewInbox fetches a page and marks every envelope on it viewed, read and
// write in one transaction.
func (s *Store) ViewInbox(ctx context.Context, receiver string, page store.PageRequest, filter store.StatusFilter) (*store.EnvelopePage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", store.ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	result, err := s.fetchPage(ctx, tx, "receiver", receiver, page, filter)
	if err != nil {
		return nil, err
	}

	if len(result.Envelopes) > 0 {
		if err := s.markViewed(ctx, tx, result.IDs()); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		for i := range result.Envelopes {
			if result.Envelopes[i].ViewedAt == nil {
				t := now
				result.Envelopes[i].ViewedAt = &t
			}
			result.Envelopes[i].Status = store.StatusViewed
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", store.ErrTransactionFailed, err)
	}

	return result, nil
}

// markViewed writes the one-directional viewed transition for the given ids.
// COALESCE keeps the original viewed_at on envelopes viewed earlier, so the
// rewrite stays idempotent.
func (s *Store) markViewed(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, viewed_at = COALESCE(viewed_at, NOW())
		WHERE id = ANY($2)
	`, s.envelopesTable())

	if _, err := tx.ExecContext(ctx, query, string(store.StatusViewed), pq.Array(ids)); err != nil {
		return fmt.Errorf("mark viewed: %w", err)
	}
	return nil
}

// MarkViewed transitions the given envelopes to viewed. Missing IDs are
// skipped. Returns the number of rows written.
func (s *Store) MarkViewed(ctx context.Context, ids []string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, viewed_at = COALESCE(viewed_at, NOW())
		WHERE id = ANY($2)
	`, s.envelopesTable())

	result, err := s.db.ExecContext(ctx, query, string(store.StatusViewed), pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("mark viewed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

// PurgeOrphanTexts deletes up to limit unreferenced texts created before
// olderThan.
func (s *Store) PurgeOrphanTexts(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		DELETE FROM %[1]s
		WHERE id IN (
			SELECT t.id FROM %[1]s t
			LEFT JOIN %[2]s e ON e.text_id = t.id
			WHERE e.id IS NULL AND t.created_at < $1
			LIMIT $2
		)
	`, s.textsTable(), s.envelopesTable())

	result, err := s.db.ExecContext(ctx, query, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("purge orphan texts: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}

// DeleteEnvelope removes exactly one envelope. The referenced text stays.
func (s *Store) DeleteEnvelope(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := validateID(id); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.envelopesTable())
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete envelope: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return store.ErrNotFound
	}

	return nil
}
