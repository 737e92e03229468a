package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/postbox/store"
)

// statusCondition returns the SQL condition for a status filter, or ""
// when the filter matches everything.
func statusCondition(filter store.StatusFilter) string {
	switch filter {
	case store.FilterNotViewed:
		return string(store.StatusNotViewed)
	case store.FilterViewed:
		return string(store.StatusViewed)
	default:
		return ""
	}
}

// fetchPage runs a count plus a page select over envelopes joined with texts.
// ext is either the pool or an open transaction, so ViewInbox can reuse the
// exact same read inside its transaction.
func (s *Store) fetchPage(ctx context.Context, ext sqlx.ExtContext, column, userID string, page store.PageRequest, filter store.StatusFilter) (*store.EnvelopePage, error) {
	where := fmt.Sprintf("e.%s = $1", column)
	args := []any{userID}

	if cond := statusCondition(filter); cond != "" {
		where += " AND e.status = $2"
		args = append(args, cond)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s e WHERE %s`, s.envelopesTable(), where)
	var total int64
	if err := sqlx.GetContext(ctx, ext, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("count envelopes: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT e.id, e.sender, e.receiver, e.status, e.text_id, e.viewed_at,
		       e.created_at, t.content AS body
		FROM %s e
		JOIN %s t ON t.id = e.text_id
		WHERE %s
		ORDER BY e.created_at DESC, e.seq DESC
		LIMIT $%d OFFSET $%d
	`, s.envelopesTable(), s.textsTable(), where, len(args)+1, len(args)+2)
	args = append(args, page.PerPage, page.Offset())

	var rows []envelopeRow
	if err := sqlx.SelectContext(ctx, ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query envelopes: %w", err)
	}

	envelopes := make([]store.Envelope, len(rows))
	for i, r := range rows {
		envelopes[i] = r.envelope()
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

	return s.fetchPage(ctx, s.db, "receiver", receiver, page, filter)
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

	return s.fetchPage(ctx, s.db, "sender", sender, page, store.FilterAny)
}

// CountByReceiver returns the number of envelopes for receiver matching the filter.
func (s *Store) CountByReceiver(ctx context.Context, receiver string, filter store.StatusFilter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	where := "receiver = $1"
	args := []any{receiver}
	if cond := statusCondition(filter); cond != "" {
		where += " AND status = $2"
		args = append(args, cond)
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, s.envelopesTable(), where)
	var count int64
	if err := s.db.GetContext(ctx, &count, query, args...); err != nil {
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

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE sender = $1`, s.envelopesTable())
	var count int64
	if err := s.db.GetContext(ctx, &count, query, sender); err != nil {
		return 0, fmt.Errorf("count by sender: %w", err)
	}
	return count, nil
}
