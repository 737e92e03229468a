package postbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rbaliyan/event/v3"
)

// Event names for postbox events.
const (
	EventNameMailSent    = "postbox.mail.sent"
	EventNameMailViewed  = "postbox.mail.viewed"
	EventNameMailDeleted = "postbox.mail.deleted"
)

// MailSentEvent is published when a mail is sent (direct send or broadcast).
// This is the primary event for notifying receivers of new mail.
type MailSentEvent struct {
	TextID      string    `json:"text_id"`
	SenderID    string    `json:"sender_id"`
	ReceiverIDs []string  `json:"receiver_ids"`
	Broadcast   bool      `json:"broadcast"`
	SentAt      time.Time `json:"sent_at"`
}

// MailViewedEvent is published when an inbox page read marks envelopes viewed.
// EnvelopeIDs covers the whole page, including envelopes that were already
// viewed before this read.
type MailViewedEvent struct {
	EnvelopeIDs []string  `json:"envelope_ids"`
	UserID      string    `json:"user_id"`
	ViewedAt    time.Time `json:"viewed_at"`
}

// MailDeletedEvent is published when an envelope is deleted.
// The shared text is never deleted, so there is no text-deleted event.
type MailDeletedEvent struct {
	EnvelopeID string    `json:"envelope_id"`
	UserID     string    `json:"user_id"`
	DeletedAt  time.Time `json:"deleted_at"`
}

// ServiceEvents provides access to per-service event instances.
// Each service creates its own events bound to its own event bus,
// enabling independent event routing and parallel testing.
//
// Subscribe to events:
//
//	svc.Events().MailSent.Subscribe(ctx, handler)
//	svc.Events().MailViewed.Subscribe(ctx, handler)
//	svc.Events().MailDeleted.Subscribe(ctx, handler)
type ServiceEvents struct {
	// MailSent is published when a mail is sent.
	MailSent event.Event[MailSentEvent]

	// MailViewed is published when an inbox read marks envelopes viewed.
	MailViewed event.Event[MailViewedEvent]

	// MailDeleted is published when an envelope is deleted.
	MailDeleted event.Event[MailDeletedEvent]
}

// newServiceEvents creates per-service event instances with a unique name prefix.
func newServiceEvents(namePrefix string) *ServiceEvents {
	return &ServiceEvents{
		MailSent:    event.New[MailSentEvent](namePrefix + "." + EventNameMailSent),
		MailViewed:  event.New[MailViewedEvent](namePrefix + "." + EventNameMailViewed),
		MailDeleted: event.New[MailDeletedEvent](namePrefix + "." + EventNameMailDeleted),
	}
}

// registerServiceEvents registers per-service events with the given bus.
func registerServiceEvents(ctx context.Context, bus *event.Bus, events *ServiceEvents) error {
	if err := event.Register(ctx, bus, events.MailSent); err != nil {
		return fmt.Errorf("register MailSent: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailViewed); err != nil {
		return fmt.Errorf("register MailViewed: %w", err)
	}
	if err := event.Register(ctx, bus, events.MailDeleted); err != nil {
		return fmt.Errorf("register MailDeleted: %w", err)
	}
	return nil
}
