package postbox

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/postbox/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout

	// Mail limits
	DefaultMaxBodySize  = 10 * 1024 * 1024 // 10 MB
	DefaultMaxReceivers = 1000             // max receivers per direct send

	// Page limits
	DefaultMaxPageSize = 100 // max envelopes per page
	DefaultPageSize    = 20  // default envelopes per page

	// Concurrency limits
	DefaultMaxConcurrentSends = 10 // max concurrent send operations per service

	// Stats cache
	DefaultStatsRefreshInterval = 30 * time.Second // TTL for cached mailbox stats

	// Orphan text cleanup
	DefaultTextRetention = 24 * time.Hour // min age before an orphaned text is purged
)

// options holds postbox configuration.
type options struct {
	store    store.Store
	resolver RecipientResolver
	logger   *slog.Logger

	// Mail limits
	maxBodySize  int
	maxReceivers int

	// Page limits
	maxPageSize     int
	defaultPageSize int

	// Concurrency limits
	maxConcurrentSends int

	// Shutdown
	shutdownTimeout time.Duration

	// Stats cache
	statsRefreshInterval time.Duration // TTL for cached stats

	// Orphan text cleanup
	textRetention time.Duration // min age before an orphaned text is purged

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "MailSent"), and err is the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger: slog.Default(),
		// Mail limits defaults
		maxBodySize:  DefaultMaxBodySize,
		maxReceivers: DefaultMaxReceivers,
		// Page limits defaults
		maxPageSize:     DefaultMaxPageSize,
		defaultPageSize: DefaultPageSize,
		// Concurrency limits defaults
		maxConcurrentSends: DefaultMaxConcurrentSends,
		// Shutdown defaults
		shutdownTimeout: DefaultShutdownTimeout,
		// Stats cache defaults
		statsRefreshInterval: DefaultStatsRefreshInterval,
		// Orphan text cleanup defaults
		textRetention: DefaultTextRetention,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Validate page limits consistency
	if o.defaultPageSize > o.maxPageSize {
		o.defaultPageSize = o.maxPageSize
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a postbox service.
type Option func(*options)

// --- Core Options ---

// WithStore sets the storage backend (required).
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithResolver sets the recipient resolver used by Broadcast to enumerate
// all user IDs. Without a resolver, Broadcast returns ErrResolverRequired.
func WithResolver(r RecipientResolver) Option {
	return func(o *options) {
		if r != nil {
			o.resolver = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// --- Mail Limit Options ---

// WithMaxBodySize sets the maximum body size in bytes.
// Default is 10 MB.
func WithMaxBodySize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBodySize = n
		}
	}
}

// WithMaxReceivers sets the maximum number of receivers per direct send.
// Broadcast is not subject to this limit - it delivers to whatever the
// resolver returns. Default is 1000.
func WithMaxReceivers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReceivers = n
		}
	}
}

// --- Page Limit Options ---

// WithMaxPageSize sets the maximum number of envelopes per page.
// Any page request above this size is capped. Default is 100.
func WithMaxPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPageSize = n
		}
	}
}

// WithDefaultPageSize sets the page size used when a page request leaves
// PerPage unset. If this exceeds MaxPageSize, it is automatically capped.
// Default is 20.
func WithDefaultPageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.defaultPageSize = n
		}
	}
}

// --- Concurrency Options ---

// WithMaxConcurrentSends sets the maximum number of concurrent send operations.
// This prevents resource exhaustion when many mails are being sent simultaneously.
// Default is 10.
func WithMaxConcurrentSends(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentSends = n
		}
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight operations
// during graceful shutdown. When Close() is called, the service waits up to
// this duration for ongoing send operations to complete.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithStatsRefreshInterval sets the TTL for cached mailbox stats.
// Stats returned within the interval come from the cache; the first read
// after it expires refreshes from the store. Default is 30 seconds.
func WithStatsRefreshInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.statsRefreshInterval = d
		}
	}
}

// WithTextRetention sets the minimum age a text must reach before
// CleanupOrphanTexts may purge it once unreferenced. The guard keeps the
// purge away from texts whose envelopes are still being written.
// Default is 24 hours.
func WithTextRetention(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.textRetention = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all mail operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// When enabled, metrics are collected for all mail operations.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
// This is a convenience function equivalent to calling
// WithTracing(true) and WithMetrics(true).
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry.
// Default is "postbox".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds (the mail is still sent).
//
// Set to true if your application requires guaranteed event delivery,
// for example when events drive critical downstream processes.
// Set to false (default) for fire-and-forget event publishing.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// When provided, events are published via the given transport for reliable delivery.
// If not provided, a noop transport is used (events are silently dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams for reliable delivery.
// If not provided, a noop transport is used (events are silently dropped).
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing failures.
// This callback is invoked whenever an event fails to publish (and eventErrorsFatal is false).
// Use this for custom logging, metrics, or alerting on event failures.
//
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}

// getLimits returns the configured mail limits.
func (o *options) getLimits() MailLimits {
	return MailLimits{
		MaxBodySize:  o.maxBodySize,
		MaxReceivers: o.maxReceivers,
	}
}
