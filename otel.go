package postbox

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "github.com/rbaliyan/postbox"
)

// otelInstrumentation holds OpenTelemetry instrumentation for the postbox service.
type otelInstrumentation struct {
	enabled bool

	// Tracing
	tracingEnabled bool
	tracer         trace.Tracer

	// Metrics
	metricsEnabled bool

	// Send operations (direct send and broadcast)
	sendLatency metric.Float64Histogram
	sendCount   metric.Int64Counter
	sendErrors  metric.Int64Counter

	// Inbox reads (coupled read + mark viewed)
	inboxLatency metric.Float64Histogram
	inboxCount   metric.Int64Counter
	inboxErrors  metric.Int64Counter

	// Outbox reads
	outboxLatency metric.Float64Histogram
	outboxCount   metric.Int64Counter
	outboxErrors  metric.Int64Counter

	// Envelope gets
	getLatency metric.Float64Histogram
	getCount   metric.Int64Counter
	getErrors  metric.Int64Counter

	// Envelope deletes
	deleteLatency metric.Float64Histogram
	deleteCount   metric.Int64Counter
	deleteErrors  metric.Int64Counter
}

// newOtelInstrumentation creates new OTel instrumentation from options.
func newOtelInstrumentation(opts *options) (*otelInstrumentation, error) {
	o := &otelInstrumentation{
		enabled:        opts.tracingEnabled || opts.metricsEnabled,
		tracingEnabled: opts.tracingEnabled,
		metricsEnabled: opts.metricsEnabled,
	}

	if !o.enabled {
		return o, nil
	}

	// Initialize tracer
	if opts.tracingEnabled {
		tp := opts.tracerProvider
		if tp == nil {
			tp = otel.GetTracerProvider()
		}
		o.tracer = tp.Tracer(instrumentationName)
	}

	// Initialize metrics
	if opts.metricsEnabled {
		mp := opts.meterProvider
		if mp == nil {
			mp = otel.GetMeterProvider()
		}
		if err := o.initMetrics(mp); err != nil {
			return nil, err
		}
	}

	return o, nil
}

// initMetrics initializes all metric instruments.
func (o *otelInstrumentation) initMetrics(mp metric.MeterProvider) error {
	meter := mp.Meter(instrumentationName)

	var err error

	// Send metrics
	o.sendLatency, err = meter.Float64Histogram(
		"postbox.send.duration",
		metric.WithDescription("Duration of send operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.sendCount, err = meter.Int64Counter(
		"postbox.send.count",
		metric.WithDescription("Number of mails sent"),
	)
	if err != nil {
		return err
	}

	o.sendErrors, err = meter.Int64Counter(
		"postbox.send.errors",
		metric.WithDescription("Number of send errors"),
	)
	if err != nil {
		return err
	}

	// Inbox metrics
	o.inboxLatency, err = meter.Float64Histogram(
		"postbox.inbox.duration",
		metric.WithDescription("Duration of inbox reads"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.inboxCount, err = meter.Int64Counter(
		"postbox.inbox.count",
		metric.WithDescription("Number of inbox reads"),
	)
	if err != nil {
		return err
	}

	o.inboxErrors, err = meter.Int64Counter(
		"postbox.inbox.errors",
		metric.WithDescription("Number of inbox read errors"),
	)
	if err != nil {
		return err
	}

	// Outbox metrics
	o.outboxLatency, err = meter.Float64Histogram(
		"postbox.outbox.duration",
		metric.WithDescription("Duration of outbox reads"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.outboxCount, err = meter.Int64Counter(
		"postbox.outbox.count",
		metric.WithDescription("Number of outbox reads"),
	)
	if err != nil {
		return err
	}

	o.outboxErrors, err = meter.Int64Counter(
		"postbox.outbox.errors",
		metric.WithDescription("Number of outbox read errors"),
	)
	if err != nil {
		return err
	}

	// Get metrics
	o.getLatency, err = meter.Float64Histogram(
		"postbox.get.duration",
		metric.WithDescription("Duration of get operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.getCount, err = meter.Int64Counter(
		"postbox.get.count",
		metric.WithDescription("Number of get operations"),
	)
	if err != nil {
		return err
	}

	o.getErrors, err = meter.Int64Counter(
		"postbox.get.errors",
		metric.WithDescription("Number of get errors"),
	)
	if err != nil {
		return err
	}

	// Delete metrics
	o.deleteLatency, err = meter.Float64Histogram(
		"postbox.delete.duration",
		metric.WithDescription("Duration of delete operations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	o.deleteCount, err = meter.Int64Counter(
		"postbox.delete.count",
		metric.WithDescription("Number of delete operations"),
	)
	if err != nil {
		return err
	}

	o.deleteErrors, err = meter.Int64Counter(
		"postbox.delete.errors",
		metric.WithDescription("Number of delete errors"),
	)
	if err != nil {
		return err
	}

	return nil
}

// startSpan starts a new span if tracing is enabled.
// Caller should call the returned function with the operation error when done.
func (o *otelInstrumentation) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if !o.tracingEnabled || o.tracer == nil {
		return ctx, func(error) {}
	}
	ctx, span := o.tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}

// recordSend records send operation metrics.
func (o *otelInstrumentation) recordSend(ctx context.Context, duration time.Duration, receiverCount int, broadcast bool, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("receiver_count", receiverCount),
		attribute.Bool("broadcast", broadcast),
	)

	o.sendLatency.Record(ctx, duration.Seconds(), attrs)
	o.sendCount.Add(ctx, 1, attrs)
	if err != nil {
		o.sendErrors.Add(ctx, 1, attrs)
	}
}

// recordInbox records inbox read metrics.
func (o *otelInstrumentation) recordInbox(ctx context.Context, duration time.Duration, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("result_count", resultCount),
	)

	o.inboxLatency.Record(ctx, duration.Seconds(), attrs)
	o.inboxCount.Add(ctx, 1, attrs)
	if err != nil {
		o.inboxErrors.Add(ctx, 1, attrs)
	}
}

// recordOutbox records outbox read metrics.
func (o *otelInstrumentation) recordOutbox(ctx context.Context, duration time.Duration, resultCount int, err error) {
	if !o.metricsEnabled {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Int("result_count", resultCount),
	)

	o.outboxLatency.Record(ctx, duration.Seconds(), attrs)
	o.outboxCount.Add(ctx, 1, attrs)
	if err != nil {
		o.outboxErrors.Add(ctx, 1, attrs)
	}
}

// recordGet records get operation metrics.
func (o *otelInstrumentation) recordGet(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.getLatency.Record(ctx, duration.Seconds())
	o.getCount.Add(ctx, 1)
	if err != nil {
		o.getErrors.Add(ctx, 1)
	}
}

// recordDelete records delete operation metrics.
func (o *otelInstrumentation) recordDelete(ctx context.Context, duration time.Duration, err error) {
	if !o.metricsEnabled {
		return
	}

	o.deleteLatency.Record(ctx, duration.Seconds())
	o.deleteCount.Add(ctx, 1)
	if err != nil {
		o.deleteErrors.Add(ctx, 1)
	}
}
