package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/postbox/store"
)

// CreateMail atomically inserts one text and one envelope per receiver using
// a transaction. If the MongoDB deployment does not support transactions
// (e.g., standalone), falls back to sequential inserts: the text goes first,
// so a partial failure can leave an unreferenced text but never an envelope
// without its body.
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

	text := textDoc{
		ID:        uuid.New().String(),
		Content:   data.Body,
		CreatedAt: createdAt,
	}

	envDocs := make([]any, len(data.Receivers))
	for i, receiver := range data.Receivers {
		envDocs[i] = &envelopeDoc{
			ID:        uuid.New().String(),
			Sender:    data.Sender,
			Receiver:  receiver,
			Status:    string(store.StatusNotViewed),
			TextID:    text.ID,
			Body:      text.Content,
			CreatedAt: createdAt,
			Seq:       i,
		}
	}

	// Try transactional insert first for atomicity
	session, err := s.client.StartSession()
	if err != nil {
		// Standalone MongoDB doesn't support sessions - fall back to plain inserts
		return s.createMailFallback(ctx, text, envDocs)
	}
	defer session.EndSession(ctx)

	_, txErr := session.WithTransaction(ctx, func(sessCtx context.Context) (any, error) {
		if _, insertErr := s.texts.InsertOne(sessCtx, text); insertErr != nil {
			return nil, fmt.Errorf("insert text: %w", insertErr)
		}
		if _, insertErr := s.envelopes.InsertMany(sessCtx, envDocs); insertErr != nil {
			return nil, fmt.Errorf("insert envelopes: %w", insertErr)
		}
		return nil, nil
	})
	if txErr != nil {
		if isTransactionNotSupported(txErr) {
			return s.createMailFallback(ctx, text, envDocs)
		}
		return nil, txErr
	}

	return buildDelivery(text, envDocs), nil
}

// createMailFallback performs non-transactional inserts for standalone deployments.
func (s *Store) createMailFallback(ctx context.Context, text textDoc, envDocs []any) (*store.Delivery, error) {
	if _, err := s.texts.InsertOne(ctx, text); err != nil {
		return nil, fmt.Errorf("insert text: %w", err)
	}
	if _, err := s.envelopes.InsertMany(ctx, envDocs); err != nil {
		return nil, fmt.Errorf("insert envelopes: %w", err)
	}
	return buildDelivery(text, envDocs), nil
}

// buildDelivery assembles the public result from the inserted documents.
func buildDelivery(text textDoc, envDocs []any) *store.Delivery {
	delivery := &store.Delivery{
		Text: store.MailText{
			ID:        text.ID,
			Content:   text.Content,
			CreatedAt: text.CreatedAt,
		},
		Envelopes: make([]store.Envelope, 0, len(envDocs)),
	}
	for _, d := range envDocs {
		doc := d.(*envelopeDoc)
		delivery.Envelopes = append(delivery.Envelopes, doc.envelope())
	}
	return delivery
}
