// Package postbox provides an embeddable user-to-user mail engine with
// pluggable storage backends.
//
// A send writes one immutable text and one delivery envelope per receiver,
// atomically. Each envelope tracks its own read state: it is created
// not-viewed and moves to viewed the first time its receiver reads an inbox
// page containing it. Deleting an envelope never touches the shared text.
//
// Basic usage:
//
//	svc, err := postbox.NewService(
//	    postbox.WithStore(memory.New()),
//	)
//	if err != nil { ... }
//	if err := svc.Connect(ctx); err != nil { ... }
//	defer svc.Close(ctx)
//
//	alice := svc.Client("alice")
//	delivery, err := alice.Send(ctx, []string{"bob", "carol"}, "hello")
//
//	bob := svc.Client("bob")
//	page, err := bob.Inbox(ctx, postbox.PageRequest{Page: 1, PerPage: 20}, postbox.FilterAny)
//
// Reading an inbox page marks every envelope on it viewed in the same store
// transaction. Outbox reads never change state.
//
// Storage backends live in store/memory, store/postgres, and store/mongo.
// Broadcast requires a RecipientResolver (see the resolver package).
//
// Each service carries its own event bus; operations publish MailSent,
// MailViewed, and MailDeleted events (see ServiceEvents). Configure a Redis
// transport with WithRedisClient for cross-process delivery, or leave the
// default noop transport for embedded use.
//
// For large mailboxes, StreamInbox and StreamOutbox iterate envelopes in
// batches without loading full pages; streaming reads never mark anything
// viewed. Aggregate counts are available through Stats, cached per user
// with a TTL. Texts orphaned by envelope deletion are reclaimed by
// periodically calling Service.CleanupOrphanTexts. Transient failures can
// be retried with the retry subpackage together with IsRetryableError.
package postbox
