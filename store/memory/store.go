// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/postbox/store"
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
//
// A single mutex guards both maps; every exported operation holds it for its
// whole duration, which gives the same all-or-nothing visibility a database
// transaction would.
type Store struct {
	mu        sync.Mutex
	texts     map[string]store.MailText
	envelopes map[string]*envelope
	seq       int64 // insertion order, for stable pagination within a send
	connected int32
}

// envelope is the internal mutable record. The public store.Envelope returned
// from queries is always a denormalized copy.
type envelope struct {
	id       string
	sender   string
	receiver string
	status   store.Status
	textID   string
	viewedAt *time.Time
	seq      int64
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		texts:     make(map[string]store.MailText),
		envelopes: make(map[string]*envelope),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// view builds the denormalized public record for an envelope.
func (s *Store) view(e *envelope) store.Envelope {
	text := s.texts[e.textID]
	var viewedAt *time.Time
	if e.viewedAt != nil {
		t := *e.viewedAt
		viewedAt = &t
	}
	return store.Envelope{
		ID:        e.id,
		Sender:    e.sender,
		Receiver:  e.receiver,
		Status:    e.status,
		TextID:    e.textID,
		Body:      text.Content,
		CreatedAt: text.CreatedAt,
		ViewedAt:  viewedAt,
	}
}

// GetText retrieves a text by ID.
func (s *Store) GetText(ctx context.Context, id string) (store.MailText, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailText{}, err
	}
	if id == "" {
		return store.MailText{}, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	text, ok := s.texts[id]
	if !ok {
		return store.MailText{}, store.ErrNotFound
	}
	return text, nil
}

// GetEnvelope retrieves a single envelope by ID.
func (s *Store) GetEnvelope(ctx context.Context, id string) (store.Envelope, error) {
	if err := s.checkConnected(); err != nil {
		return store.Envelope{}, err
	}
	if id == "" {
		return store.Envelope{}, store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.envelopes[id]
	if !ok {
		return store.Envelope{}, store.ErrNotFound
	}
	return s.view(e), nil
}

// CreateMail atomically inserts one text and one envelope per receiver.
func (s *Store) CreateMail(ctx context.Context, data store.MailData) (*store.Delivery, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if len(data.Receivers) == 0 {
		return nil, store.ErrEmptyReceivers
	}

	createdAt := data.SentAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	text := store.MailText{
		ID:        uuid.New().String(),
		CreatedAt: createdAt,
		Content:   data.Body,
	}
	s.texts[text.ID] = text

	delivery := &store.Delivery{
		Text:      text,
		Envelopes: make([]store.Envelope, 0, len(data.Receivers)),
	}
	for _, receiver := range data.Receivers {
		s.seq++
		e := &envelope{
			id:       uuid.New().String(),
			sender:   data.Sender,
			receiver: receiver,
			status:   store.StatusNotViewed,
			textID:   text.ID,
			seq:      s.seq,
		}
		s.envelopes[e.id] = e
		delivery.Envelopes = append(delivery.Envelopes, s.view(e))
	}

	return delivery, nil
}

// PeekInbox returns a page of envelopes for receiver without side effects.
func (s *Store) PeekInbox(ctx context.Context, receiver string, page store.PageRequest, filter store.StatusFilter) (*store.EnvelopePage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pageLocked(page, func(e *envelope) bool {
		return e.receiver == receiver && filter.Matches(e.status)
	}), nil
}

// ViewInbox fetches a page and marks every envelope on it viewed, under the
// same mutex hold - the in-memory equivalent of one transaction.
func (s *Store) ViewInbox(ctx context.Context, receiver string, page store.PageRequest, filter store.StatusFilter) (*store.EnvelopePage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := s.pageLocked(page, func(e *envelope) bool {
		return e.receiver == receiver && filter.Matches(e.status)
	})
	if len(result.Envelopes) == 0 {
		return result, nil
	}

	s.markViewedLocked(result.IDs())

	// Re-read the marked envelopes so the returned page reflects the write.
	for i := range result.Envelopes {
		if e, ok := s.envelopes[result.Envelopes[i].ID]; ok {
			result.Envelopes[i] = s.view(e)
		}
	}
	return result, nil
}

// Outbox returns a page of envelopes sent by sender. Pure read.
func (s *Store) Outbox(ctx context.Context, sender string, page store.PageRequest) (*store.EnvelopePage, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pageLocked(page, func(e *envelope) bool {
		return e.sender == sender
	}), nil
}

// MarkViewed transitions envelopes to StatusViewed. Forward-only; missing IDs
// are skipped.
func (s *Store) MarkViewed(ctx context.Context, ids []string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.markViewedLocked(ids), nil
}

func (s *Store) markViewedLocked(ids []string) int64 {
	now := time.Now().UTC()
	var written int64
	for _, id := range ids {
		e, ok := s.envelopes[id]
		if !ok {
			continue
		}
		if e.viewedAt == nil {
			t := now
			e.viewedAt = &t
		}
		e.status = store.StatusViewed
		written++
	}
	return written
}

// DeleteEnvelope removes one envelope. The referenced text stays.
func (s *Store) DeleteEnvelope(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if id == "" {
		return store.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.envelopes[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.envelopes, id)
	return nil
}

// CountByReceiver returns the number of envelopes for receiver matching the
// filter.
func (s *Store) CountByReceiver(ctx context.Context, receiver string, filter store.StatusFilter) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, e := range s.envelopes {
		if e.receiver == receiver && filter.Matches(e.status) {
			count++
		}
	}
	return count, nil
}

// CountBySender returns the number of envelopes sent by sender.
func (s *Store) CountBySender(ctx context.Context, sender string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, e := range s.envelopes {
		if e.sender == sender {
			count++
		}
	}
	return count, nil
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

	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := make(map[string]struct{}, len(s.envelopes))
	for _, e := range s.envelopes {
		referenced[e.textID] = struct{}{}
	}

	var deleted int64
	for id, text := range s.texts {
		if deleted >= int64(limit) {
			break
		}
		if _, ok := referenced[id]; ok {
			continue
		}
		if !text.CreatedAt.Before(olderThan) {
			continue
		}
		delete(s.texts, id)
		deleted++
	}
	return deleted, nil
}

// pageLocked collects matching envelopes newest-first and slices out the
// requested page. Caller must hold s.mu.
func (s *Store) pageLocked(page store.PageRequest, match func(*envelope) bool) *store.EnvelopePage {
	var all []*envelope
	for _, e := range s.envelopes {
		if match(e) {
			all = append(all, e)
		}
	}

	// Newest first; insertion order breaks ties within one send.
	sort.Slice(all, func(i, j int) bool {
		ti := s.texts[all[i].textID].CreatedAt
		tj := s.texts[all[j].textID].CreatedAt
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return all[i].seq > all[j].seq
	})

	total := int64(len(all))
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.PerPage
	if end > len(all) {
		end = len(all)
	}

	envelopes := make([]store.Envelope, 0, end-start)
	for _, e := range all[start:end] {
		envelopes = append(envelopes, s.view(e))
	}

	return &store.EnvelopePage{
		Envelopes: envelopes,
		Total:     total,
		Pages:     store.PageCount(total, page.PerPage),
		Page:      page.Page,
		PerPage:   page.PerPage,
	}
}

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)
