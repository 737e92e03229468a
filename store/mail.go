package store

import (
	"time"
)

// Status represents the read state of an envelope.
type Status string

// Envelope status constants. An envelope is created as StatusNotViewed and
// moves to StatusViewed exactly once, via MarkViewed. There is no path back.
const (
	StatusNotViewed Status = "not_viewed"
	StatusViewed    Status = "viewed"
)

// Valid reports whether s is a known status value. Boundaries should reject
// anything else rather than trust callers.
func (s Status) Valid() bool {
	return s == StatusNotViewed || s == StatusViewed
}

// StatusFilter restricts inbox queries to a read state.
type StatusFilter int

// Status filter values for inbox queries.
const (
	FilterAny StatusFilter = iota
	FilterNotViewed
	FilterViewed
)

// Matches reports whether a status passes the filter.
func (f StatusFilter) Matches(s Status) bool {
	switch f {
	case FilterNotViewed:
		return s == StatusNotViewed
	case FilterViewed:
		return s == StatusViewed
	default:
		return true
	}
}

// MailText is the immutable body of a send operation. It is written once and
// shared by every envelope created in the same send; it is never mutated.
type MailText struct {
	ID        string
	CreatedAt time.Time
	Content   string
}

// Envelope is the per-recipient delivery record. Many envelopes may reference
// one MailText; the reference is non-owning (deleting an envelope never
// deletes the text).
type Envelope struct {
	ID       string
	Sender   string
	Receiver string
	Status   Status
	TextID   string

	// Body and CreatedAt are denormalized from the referenced text on reads.
	Body      string
	CreatedAt time.Time

	// ViewedAt records the first NOT_VIEWED -> VIEWED transition.
	// Never cleared once set.
	ViewedAt *time.Time
}

// MailData is the input to Store.CreateMail: one text body addressed to an
// ordered receiver list. Duplicate receivers produce duplicate envelopes.
type MailData struct {
	Sender    string
	Receivers []string
	Body      string
	SentAt    time.Time
}

// Delivery is the result of a successful CreateMail: the stored text and one
// envelope per receiver, in receiver order.
type Delivery struct {
	Text      MailText
	Envelopes []Envelope
}

// PageRequest selects a 1-based page of results.
type PageRequest struct {
	Page    int
	PerPage int
}

// Validate reports ErrInvalidPage for non-positive page or size.
func (p PageRequest) Validate() error {
	if p.Page < 1 || p.PerPage < 1 {
		return ErrInvalidPage
	}
	return nil
}

// Offset returns the row offset for this page.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// EnvelopePage is a page of envelopes with pagination metadata.
type EnvelopePage struct {
	Envelopes []Envelope
	Total     int64
	Pages     int
	Page      int
	PerPage   int
}

// IDs returns the envelope IDs on this page, in page order.
func (p *EnvelopePage) IDs() []string {
	ids := make([]string, len(p.Envelopes))
	for i, e := range p.Envelopes {
		ids[i] = e.ID
	}
	return ids
}

// MailboxStats holds aggregate counts for one user's mailbox.
type MailboxStats struct {
	// Received is the number of envelopes addressed to the user.
	Received int64
	// Unread is the number of received envelopes still not viewed.
	Unread int64
	// Sent is the number of envelopes the user has sent.
	Sent int64
}

// Clone returns a copy of the stats.
func (s *MailboxStats) Clone() *MailboxStats {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// PageCount computes the number of pages for a total at the given page size.
func PageCount(total int64, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(perPage) - 1) / int64(perPage))
}
