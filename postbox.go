package postbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/event/v3/transport/noop"
	eventredis "github.com/rbaliyan/event/v3/transport/redis"
	"github.com/rbaliyan/postbox/store"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
)

// Type aliases for commonly used store types.
// These allow users to work with the postbox package without importing store directly.
type (
	Envelope     = store.Envelope
	MailText     = store.MailText
	Delivery     = store.Delivery
	PageRequest  = store.PageRequest
	EnvelopePage = store.EnvelopePage
	Status       = store.Status
	StatusFilter = store.StatusFilter
)

// Re-exported status and filter constants.
const (
	StatusNotViewed = store.StatusNotViewed
	StatusViewed    = store.StatusViewed

	FilterAny       = store.FilterAny
	FilterNotViewed = store.FilterNotViewed
	FilterViewed    = store.FilterViewed
)

// ServiceHealth provides health and state information about the service.
type ServiceHealth interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
}

// Service manages the mail engine (server-side).
// It handles connections to storage and creates per-user mailbox clients.
//
// Composed of:
//   - ServiceHealth: Health and state queries (IsConnected)
type Service interface {
	ServiceHealth

	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close closes all connections.
	Close(ctx context.Context) error
	// Client returns a mailbox client for the given user.
	// The returned client shares the service's connections.
	Client(userID string) Mailbox
	// Events returns per-service event instances for subscribing and publishing.
	// Each service has its own events bound to its own event bus, enabling
	// independent event routing and parallel testing.
	Events() *ServiceEvents
	// CleanupOrphanTexts purges texts no envelope references anymore.
	// See the method documentation for scheduling guidance.
	CleanupOrphanTexts(ctx context.Context) (*CleanupResult, error)
}

// MailSender provides mail dispatch operations.
type MailSender interface {
	// Send delivers body to every receiver. One immutable text is written
	// plus one envelope per receiver; duplicate receivers get duplicate
	// envelopes. Returns a NoReceiverError when receivers is empty or nil.
	Send(ctx context.Context, receivers []string, body string) (*Delivery, error)

	// Broadcast sends body to every user the configured resolver knows,
	// including the sender. Equivalent to Send with the resolver's snapshot
	// as the receiver list.
	Broadcast(ctx context.Context, body string) (*Delivery, error)
}

// MailReader provides read access to a user's envelopes.
type MailReader interface {
	// Get retrieves a single envelope the user sent or received.
	// Never changes read state.
	Get(ctx context.Context, envelopeID string) (Envelope, error)

	// Inbox returns a page of received envelopes, newest first, and marks
	// every envelope on a non-empty page viewed in the same store
	// transaction. Reading a page again returns the full page unchanged.
	Inbox(ctx context.Context, page PageRequest, filter StatusFilter) (*EnvelopePage, error)

	// Outbox returns a page of sent envelopes, newest first. Pure read.
	Outbox(ctx context.Context, page PageRequest) (*EnvelopePage, error)

	// UnreadCount returns the number of not-viewed envelopes in the inbox.
	UnreadCount(ctx context.Context) (int64, error)

	// StreamInbox returns an iterator over received envelopes. Streaming
	// reads never mark envelopes viewed.
	StreamInbox(ctx context.Context, filter StatusFilter, opts StreamOptions) (EnvelopeIterator, error)

	// StreamOutbox returns an iterator over sent envelopes.
	StreamOutbox(ctx context.Context, opts StreamOptions) (EnvelopeIterator, error)
}

// MailMutator provides envelope mutations.
type MailMutator interface {
	// Delete removes one received envelope. The shared text survives for
	// other receivers of the same send.
	Delete(ctx context.Context, envelopeID string) error
}

// Mailbox provides mail operations for a single user.
//
// Composed of:
//   - MailSender: Dispatch (Send, Broadcast)
//   - MailReader: Reads (Get, Inbox, Outbox, UnreadCount, StreamInbox, StreamOutbox)
//   - MailMutator: Mutations (Delete)
//   - StatsReader: Aggregates (Stats)
type Mailbox interface {
	UserID() string
	MailSender
	MailReader
	MailMutator
	StatsReader
}

// Connection states for the service.
const (
	stateDisconnected int32 = 0
	stateConnecting   int32 = 1
	stateConnected    int32 = 2
)

// service is the default implementation of Service.
type service struct {
	store    store.Store
	resolver RecipientResolver
	logger   *slog.Logger
	opts     *options
	state    int32 // stateDisconnected, stateConnecting, or stateConnected
	otel     *otelInstrumentation
	sendSem  *semaphore.Weighted // Limits concurrent sends to prevent resource exhaustion
	eventBus *event.Bus          // Event bus for publishing events
	events   *ServiceEvents      // Per-service event instances

	statsCache sync.Map // userID -> *statsEntry
}

// NewService creates a new postbox service.
// Call Connect() to establish connections to backends.
func NewService(opts ...Option) (Service, error) {
	o := newOptions(opts...)

	if o.store == nil {
		return nil, ErrStoreRequired
	}

	otelInstr, err := newOtelInstrumentation(o)
	if err != nil {
		return nil, fmt.Errorf("init otel: %w", err)
	}

	return &service{
		store:    o.store,
		resolver: o.resolver,
		logger:   o.logger,
		opts:     o,
		otel:     otelInstr,
		sendSem:  semaphore.NewWeighted(int64(o.maxConcurrentSends)),
	}, nil
}

// Events returns per-service event instances for subscribing and publishing.
func (s *service) Events() *ServiceEvents {
	return s.events
}

// IsConnected returns true if the service is connected and ready.
func (s *service) IsConnected() bool {
	return atomic.LoadInt32(&s.state) == stateConnected
}

// Connect establishes connections to storage backends.
func (s *service) Connect(ctx context.Context) error {
	// Use three-state to prevent Client() from seeing partial initialization
	// stateDisconnected -> stateConnecting -> stateConnected
	if !atomic.CompareAndSwapInt32(&s.state, stateDisconnected, stateConnecting) {
		return ErrAlreadyConnected
	}

	// Reset to disconnected on failure, set to connected on success
	success := false
	defer func() {
		if success {
			atomic.StoreInt32(&s.state, stateConnected)
		} else {
			atomic.StoreInt32(&s.state, stateDisconnected)
		}
	}()

	if err := s.store.Connect(ctx); err != nil {
		return fmt.Errorf("connect store: %w", err)
	}

	if err := s.initEventBus(ctx); err != nil {
		s.store.Close(ctx)
		return fmt.Errorf("init event bus: %w", err)
	}

	success = true
	s.logger.Info("postbox service connected")
	return nil
}

// busCounter generates unique suffixes for event bus names.
var busCounter int64

// initEventBus initializes the event bus for this service.
// Each service creates its own bus with its own per-service events.
func (s *service) initEventBus(ctx context.Context) error {
	serviceName := s.opts.serviceName
	if serviceName == "" {
		serviceName = "postbox"
	}
	// Each bus needs a unique name, so append a counter suffix
	busName := fmt.Sprintf("%s-%d", serviceName, atomic.AddInt64(&busCounter, 1))

	var bus *event.Bus
	var err error

	switch {
	case s.opts.eventTransport != nil:
		s.logger.Info("initializing event bus with custom transport")
		bus, err = event.NewBus(busName, event.WithTransport(s.opts.eventTransport))
	case s.opts.redisClient != nil:
		s.logger.Info("initializing event bus with Redis transport")
		t, transportErr := eventredis.New(s.opts.redisClient)
		if transportErr != nil {
			return fmt.Errorf("create redis transport: %w", transportErr)
		}
		bus, err = event.NewBus(busName, event.WithTransport(t))
	default:
		s.logger.Debug("initializing event bus with noop transport")
		bus, err = event.NewBus(busName, event.WithTransport(noop.New()))
	}

	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	s.eventBus = bus

	// Create and register per-service events (unique per service instance).
	s.events = newServiceEvents(busName)
	if err := registerServiceEvents(ctx, bus, s.events); err != nil {
		bus.Close(ctx)
		return fmt.Errorf("register service events: %w", err)
	}

	return nil
}

// Close closes connections to storage backends.
func (s *service) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, stateConnected, stateDisconnected) {
		return nil
	}

	var errs []error

	// Wait for in-flight send operations to complete (graceful shutdown).
	// After setting state to disconnected, no new sends can start because checkAccess fails.
	// We acquire all semaphore slots to wait for existing operations to finish.
	s.logger.Info("waiting for in-flight operations to complete...", "timeout", s.opts.shutdownTimeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, s.opts.shutdownTimeout)
	defer shutdownCancel()
	if err := s.sendSem.Acquire(shutdownCtx, int64(s.opts.maxConcurrentSends)); err != nil {
		// Context cancelled or deadline exceeded - log but continue shutdown
		s.logger.Warn("timeout waiting for in-flight operations, proceeding with shutdown",
			"error", err)
		errs = append(errs, fmt.Errorf("graceful shutdown timeout: %w", err))
	} else {
		s.sendSem.Release(int64(s.opts.maxConcurrentSends))
		s.logger.Info("all in-flight operations completed")
	}

	// Close event bus only if using a real transport.
	// For noop transport, the bus doesn't hold resources.
	if s.eventBus != nil && (s.opts.eventTransport != nil || s.opts.redisClient != nil) {
		if err := s.eventBus.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
	}

	if err := s.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	return errors.Join(errs...)
}

// Client returns a mailbox client for the given user.
func (s *service) Client(userID string) Mailbox {
	return &userMailbox{
		userID:      userID,
		service:     s,
		validUserID: isValidUserID(userID),
	}
}

// userMailbox is the default implementation of Mailbox.
type userMailbox struct {
	userID      string
	service     *service
	validUserID bool // set by Client() after validation
}

// UserID returns the user ID of this mailbox.
func (m *userMailbox) UserID() string {
	return m.userID
}

// isConnected checks if the service is connected.
func (m *userMailbox) isConnected() bool {
	return atomic.LoadInt32(&m.service.state) == stateConnected
}

// checkAccess verifies the mailbox is ready for operations.
// Returns ErrNotConnected if service isn't connected,
// or ErrInvalidUserID if user ID failed validation.
func (m *userMailbox) checkAccess() error {
	if !m.isConnected() {
		return ErrNotConnected
	}
	if !m.validUserID {
		return ErrInvalidUserID
	}
	return nil
}

// canAccess reports whether this user may see the envelope.
// Receivers see their inbox copies; senders see their sent envelopes.
func (m *userMailbox) canAccess(e store.Envelope) bool {
	return e.Receiver == m.userID || e.Sender == m.userID
}

// Send delivers body to every receiver.
func (m *userMailbox) Send(ctx context.Context, receivers []string, body string) (*Delivery, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	if len(receivers) == 0 {
		return nil, &NoReceiverError{Sender: m.userID}
	}

	limits := m.service.opts.getLimits()
	if err := ValidateReceivers(receivers, limits); err != nil {
		return nil, err
	}
	if err := ValidateBody(body, limits); err != nil {
		return nil, err
	}

	return m.deliver(ctx, receivers, body, false)
}

// Broadcast sends body to every user the resolver knows, including the sender.
func (m *userMailbox) Broadcast(ctx context.Context, body string) (*Delivery, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	if m.service.resolver == nil {
		return nil, ErrResolverRequired
	}

	if err := ValidateBody(body, m.service.opts.getLimits()); err != nil {
		return nil, err
	}

	receivers, err := m.service.resolver.ListAllUserIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	if len(receivers) == 0 {
		return nil, &NoReceiverError{Sender: m.userID}
	}

	// The resolver's snapshot is delivered as-is. The sender is not excluded,
	// and the per-send receiver limit does not apply.
	return m.deliver(ctx, receivers, body, true)
}

// deliver performs the atomic create and publishes the sent event.
// Receivers must be validated (and non-empty) by the caller.
func (m *userMailbox) deliver(ctx context.Context, receivers []string, body string, broadcast bool) (*Delivery, error) {
	ctx, endSpan := m.service.otel.startSpan(ctx, "postbox.send",
		attribute.String("user_id", m.userID),
		attribute.Int("receiver_count", len(receivers)),
		attribute.Bool("broadcast", broadcast),
	)
	start := time.Now()
	var sendErr error
	defer func() {
		endSpan(sendErr)
		m.service.otel.recordSend(ctx, time.Since(start), len(receivers), broadcast, sendErr)
	}()

	if err := m.service.sendSem.Acquire(ctx, 1); err != nil {
		sendErr = err
		return nil, sendErr
	}
	defer m.service.sendSem.Release(1)

	sentAt := time.Now().UTC()
	delivery, err := m.service.store.CreateMail(ctx, store.MailData{
		Sender:    m.userID,
		Receivers: receivers,
		Body:      body,
		SentAt:    sentAt,
	})
	if err != nil {
		if errors.Is(err, store.ErrEmptyReceivers) {
			sendErr = &NoReceiverError{Sender: m.userID}
			return nil, sendErr
		}
		sendErr = fmt.Errorf("create mail: %w", err)
		return nil, sendErr
	}

	m.service.logger.Debug("mail sent",
		"text_id", delivery.Text.ID,
		"sender", m.userID,
		"receivers", len(receivers),
		"broadcast", broadcast,
	)

	if err := m.service.events.MailSent.Publish(ctx, MailSentEvent{
		TextID:      delivery.Text.ID,
		SenderID:    m.userID,
		ReceiverIDs: receivers,
		Broadcast:   broadcast,
		SentAt:      sentAt,
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			// Return the delivery WITH an error - mail was sent but event failed
			sendErr = &EventPublishError{
				Event: "MailSent",
				ID:    delivery.Text.ID,
				Err:   err,
			}
			return delivery, sendErr
		}
		m.service.opts.safeEventPublishFailure("MailSent", err)
	}

	return delivery, nil
}

// normalizePage applies page defaults and caps from options.
// Page 0 means the first page; PerPage 0 means the configured default.
func (m *userMailbox) normalizePage(page PageRequest) (PageRequest, error) {
	if page.Page == 0 {
		page.Page = 1
	}
	if page.PerPage == 0 {
		page.PerPage = m.service.opts.defaultPageSize
	}
	if page.PerPage > m.service.opts.maxPageSize {
		page.PerPage = m.service.opts.maxPageSize
	}
	if err := page.Validate(); err != nil {
		return page, fmt.Errorf("postbox: %w", err)
	}
	return page, nil
}

// Inbox returns a page of received envelopes and marks it viewed.
func (m *userMailbox) Inbox(ctx context.Context, page PageRequest, filter StatusFilter) (*EnvelopePage, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	page, err := m.normalizePage(page)
	if err != nil {
		return nil, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "postbox.inbox",
		attribute.String("user_id", m.userID),
		attribute.Int("page", page.Page),
	)
	start := time.Now()
	var inboxErr error
	var resultCount int
	defer func() {
		endSpan(inboxErr)
		m.service.otel.recordInbox(ctx, time.Since(start), resultCount, inboxErr)
	}()

	result, err := m.service.store.ViewInbox(ctx, m.userID, page, filter)
	if err != nil {
		inboxErr = err
		return nil, fmt.Errorf("view inbox: %w", err)
	}
	resultCount = len(result.Envelopes)

	// An empty page marked nothing, so there is nothing to announce.
	if resultCount == 0 {
		return result, nil
	}

	if err := m.service.events.MailViewed.Publish(ctx, MailViewedEvent{
		EnvelopeIDs: result.IDs(),
		UserID:      m.userID,
		ViewedAt:    time.Now().UTC(),
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			inboxErr = &EventPublishError{
				Event: "MailViewed",
				ID:    result.Envelopes[0].ID,
				Err:   err,
			}
			return result, inboxErr
		}
		m.service.opts.safeEventPublishFailure("MailViewed", err)
	}

	return result, nil
}

// Outbox returns a page of sent envelopes. Pure read.
func (m *userMailbox) Outbox(ctx context.Context, page PageRequest) (*EnvelopePage, error) {
	if err := m.checkAccess(); err != nil {
		return nil, err
	}

	page, err := m.normalizePage(page)
	if err != nil {
		return nil, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "postbox.outbox",
		attribute.String("user_id", m.userID),
		attribute.Int("page", page.Page),
	)
	start := time.Now()
	var outboxErr error
	var resultCount int
	defer func() {
		endSpan(outboxErr)
		m.service.otel.recordOutbox(ctx, time.Since(start), resultCount, outboxErr)
	}()

	result, storeErr := m.service.store.Outbox(ctx, m.userID, page)
	if storeErr != nil {
		outboxErr = storeErr
		return nil, fmt.Errorf("outbox: %w", storeErr)
	}
	resultCount = len(result.Envelopes)

	return result, nil
}

// Get retrieves a single envelope the user sent or received.
func (m *userMailbox) Get(ctx context.Context, envelopeID string) (Envelope, error) {
	if err := m.checkAccess(); err != nil {
		return Envelope{}, err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "postbox.get",
		attribute.String("user_id", m.userID),
		attribute.String("envelope_id", envelopeID),
	)
	start := time.Now()
	var getErr error
	defer func() {
		endSpan(getErr)
		m.service.otel.recordGet(ctx, time.Since(start), getErr)
	}()

	e, storeErr := m.service.store.GetEnvelope(ctx, envelopeID)
	if storeErr != nil {
		getErr = storeErr
		return Envelope{}, fmt.Errorf("get envelope: %w", storeErr)
	}

	if !m.canAccess(e) {
		getErr = ErrUnauthorized
		return Envelope{}, ErrUnauthorized
	}

	return e, nil
}

// UnreadCount returns the number of not-viewed envelopes in the inbox.
func (m *userMailbox) UnreadCount(ctx context.Context) (int64, error) {
	if err := m.checkAccess(); err != nil {
		return 0, err
	}

	count, err := m.service.store.CountByReceiver(ctx, m.userID, store.FilterNotViewed)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// Delete removes one received envelope. The shared text survives.
func (m *userMailbox) Delete(ctx context.Context, envelopeID string) error {
	if err := m.checkAccess(); err != nil {
		return err
	}

	ctx, endSpan := m.service.otel.startSpan(ctx, "postbox.delete",
		attribute.String("user_id", m.userID),
		attribute.String("envelope_id", envelopeID),
	)
	start := time.Now()
	var deleteErr error
	defer func() {
		endSpan(deleteErr)
		m.service.otel.recordDelete(ctx, time.Since(start), deleteErr)
	}()

	e, err := m.service.store.GetEnvelope(ctx, envelopeID)
	if err != nil {
		deleteErr = err
		return fmt.Errorf("get envelope: %w", err)
	}

	// Only the receiver owns the envelope. The sender's outbox view is
	// derived from the same rows, so letting senders delete would pull mail
	// out of receivers' inboxes.
	if e.Receiver != m.userID {
		deleteErr = ErrUnauthorized
		return ErrUnauthorized
	}

	if err := m.service.store.DeleteEnvelope(ctx, envelopeID); err != nil {
		deleteErr = err
		return fmt.Errorf("delete envelope: %w", err)
	}

	if err := m.service.events.MailDeleted.Publish(ctx, MailDeletedEvent{
		EnvelopeID: envelopeID,
		UserID:     m.userID,
		DeletedAt:  time.Now().UTC(),
	}); err != nil {
		if m.service.opts.eventErrorsFatal {
			deleteErr = &EventPublishError{
				Event: "MailDeleted",
				ID:    envelopeID,
				Err:   err,
			}
			return deleteErr
		}
		m.service.opts.safeEventPublishFailure("MailDeleted", err)
	}

	return nil
}
