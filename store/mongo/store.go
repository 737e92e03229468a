// Package mongo provides a MongoDB implementation of store.Store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/postbox/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Store implements store.Store using MongoDB.
//
// Texts and envelopes live in separate collections. Because a text is
// immutable once written, each envelope document denormalizes the body and
// created_at, so envelope reads never need a $lookup.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	texts     *mongo.Collection
	envelopes *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// Compile-time check
var _ store.Store = (*Store)(nil)

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections, and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 1 {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.texts = s.db.Collection(s.opts.texts)
	s.envelopes = s.db.Collection(s.opts.envelopes)

	if err := s.ensureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure indexes: %w", err)
	}

	atomic.StoreInt32(&s.connected, 1)
	s.logger.Info("connected to MongoDB",
		"database", s.opts.database,
		"texts", s.opts.texts,
		"envelopes", s.opts.envelopes,
	)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes on the envelopes collection.
func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{
			bson.E{Key: "receiver", Value: 1},
			bson.E{Key: "created_at", Value: -1},
			bson.E{Key: "seq", Value: -1},
		}},
		{Keys: bson.D{
			bson.E{Key: "sender", Value: 1},
			bson.E{Key: "created_at", Value: -1},
			bson.E{Key: "seq", Value: -1},
		}},
		{Keys: bson.D{
			bson.E{Key: "receiver", Value: 1},
			bson.E{Key: "status", Value: 1},
		}},
		{Keys: bson.D{bson.E{Key: "text_id", Value: 1}}},
	}

	_, err := s.envelopes.Indexes().CreateMany(ctx, indexes)
	return err
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// textDoc is the texts collection document. IDs are app-assigned UUIDs so
// every backend exposes the same ID format.
type textDoc struct {
	ID        string    `bson:"_id"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// envelopeDoc is the envelopes collection document. Body and CreatedAt are
// denormalized from the immutable text; Seq preserves receiver order within
// one send for stable pagination.
type envelopeDoc struct {
	ID        string     `bson:"_id"`
	Sender    string     `bson:"sender"`
	Receiver  string     `bson:"receiver"`
	Status    string     `bson:"status"`
	TextID    string     `bson:"text_id"`
	Body      string     `bson:"body"`
	CreatedAt time.Time  `bson:"created_at"`
	ViewedAt  *time.Time `bson:"viewed_at,omitempty"`
	Seq       int        `bson:"seq"`
}

// envelope converts a document to the public store type.
func (d *envelopeDoc) envelope() store.Envelope {
	e := store.Envelope{
		ID:        d.ID,
		Sender:    d.Sender,
		Receiver:  d.Receiver,
		Status:    store.Status(d.Status),
		TextID:    d.TextID,
		Body:      d.Body,
		CreatedAt: d.CreatedAt,
	}
	if d.ViewedAt != nil {
		t := *d.ViewedAt
		e.ViewedAt = &t
	}
	return e
}

// GetText retrieves a text by ID.
func (s *Store) GetText(ctx context.Context, id string) (store.MailText, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailText{}, err
	}
	if id == "" {
		return store.MailText{}, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc textDoc
	if err := s.texts.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.MailText{}, store.ErrNotFound
		}
		return store.MailText{}, fmt.Errorf("find text: %w", err)
	}

	return store.MailText{ID: doc.ID, Content: doc.Content, CreatedAt: doc.CreatedAt}, nil
}

// GetEnvelope retrieves a single envelope by ID.
func (s *Store) GetEnvelope(ctx context.Context, id string) (store.Envelope, error) {
	if err := s.checkConnected(); err != nil {
		return store.Envelope{}, err
	}
	if id == "" {
		return store.Envelope{}, store.ErrInvalidID
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var doc envelopeDoc
	if err := s.envelopes.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.Envelope{}, store.ErrNotFound
		}
		return store.Envelope{}, fmt.Errorf("find envelope: %w", err)
	}

	return doc.envelope(), nil
}

// isTransactionNotSupported checks if the error indicates transactions aren't supported.
func isTransactionNotSupported(err error) bool {
	if err == nil {
		return false
	}
	// MongoDB returns code 263 (OperationNotSupportedInTransaction) or
	// code 20 (IllegalOperation) for standalone servers
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 263 || cmdErr.Code == 20
	}
	return false
}
