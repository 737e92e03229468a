// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/rbaliyan/postbox/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
//
// Mail is stored in two tables: one for immutable texts and one for
// per-receiver envelopes with a foreign key to the text. CreateMail and
// ViewInbox run inside database transactions.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// textsTable returns the qualified texts table name.
func (s *Store) textsTable() string {
	return s.opts.tablePrefix + "texts"
}

// envelopesTable returns the qualified envelopes table name.
func (s *Store) envelopesTable() string {
	return s.opts.tablePrefix + "envelopes"
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL",
		"texts", s.textsTable(), "envelopes", s.envelopesTable())
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	createTexts := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			content TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.textsTable())

	if _, err := s.db.ExecContext(ctx, createTexts); err != nil {
		return fmt.Errorf("create texts table: %w", err)
	}

	// The foreign key is deliberately NOT ON DELETE CASCADE in the other
	// direction: envelope deletion must never remove the shared text.
	createEnvelopes := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			sender VARCHAR(255) NOT NULL,
			receiver VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'not_viewed',
			text_id UUID NOT NULL REFERENCES %s(id),
			viewed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			seq BIGSERIAL
		)
	`, s.envelopesTable(), s.textsTable())

	if _, err := s.db.ExecContext(ctx, createEnvelopes); err != nil {
		return fmt.Errorf("create envelopes table: %w", err)
	}

	env := s.envelopesTable()
	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_receiver ON %s(receiver, created_at DESC, seq DESC)`, env, env),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_sender ON %s(sender, created_at DESC, seq DESC)`, env, env),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_receiver_status ON %s(receiver, status)`, env, env),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_text ON %s(text_id)`, env, env),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// validateID checks that id parses as a UUID.
func validateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrInvalidID
	}
	return nil
}

// envelopeRow is the scan target for envelope queries joined with texts.
type envelopeRow struct {
	ID        string       `db:"id"`
	Sender    string       `db:"sender"`
	Receiver  string       `db:"receiver"`
	Status    string       `db:"status"`
	TextID    string       `db:"text_id"`
	Body      string       `db:"body"`
	CreatedAt time.Time    `db:"created_at"`
	ViewedAt  sql.NullTime `db:"viewed_at"`
}

// envelope converts a row to the public store type.
func (r envelopeRow) envelope() store.Envelope {
	e := store.Envelope{
		ID:        r.ID,
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		Status:    store.Status(r.Status),
		TextID:    r.TextID,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
	}
	if r.ViewedAt.Valid {
		t := r.ViewedAt.Time
		e.ViewedAt = &t
	}
	return e
}

// GetText retrieves a text by ID.
func (s *Store) GetText(ctx context.Context, id string) (store.MailText, error) {
	if err := s.checkConnected(); err != nil {
		return store.MailText{}, err
	}
	if err := validateID(id); err != nil {
		return store.MailText{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT id, content, created_at FROM %s WHERE id = $1`, s.textsTable())

	var row struct {
		ID        string    `db:"id"`
		Content   string    `db:"content"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.MailText{}, store.ErrNotFound
		}
		return store.MailText{}, fmt.Errorf("get text: %w", err)
	}

	return store.MailText{ID: row.ID, Content: row.Content, CreatedAt: row.CreatedAt}, nil
}

// GetEnvelope retrieves a single envelope by ID.
func (s *Store) GetEnvelope(ctx context.Context, id string) (store.Envelope, error) {
	if err := s.checkConnected(); err != nil {
		return store.Envelope{}, err
	}
	if err := validateID(id); err != nil {
		return store.Envelope{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT e.id, e.sender, e.receiver, e.status, e.text_id, e.viewed_at,
		       e.created_at, t.content AS body
		FROM %s e
		JOIN %s t ON t.id = e.text_id
		WHERE e.id = $1
	`, s.envelopesTable(), s.textsTable())

	var row envelopeRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Envelope{}, store.ErrNotFound
		}
		return store.Envelope{}, fmt.Errorf("get envelope: %w", err)
	}

	return row.envelope(), nil
}
