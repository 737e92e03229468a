package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase            = "postbox"
	DefaultTextsCollection     = "texts"
	DefaultEnvelopesCollection = "envelopes"
	DefaultTimeout             = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database  string
	texts     string
	envelopes string
	timeout   time.Duration
	logger    *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:  DefaultDatabase,
		texts:     DefaultTextsCollection,
		envelopes: DefaultEnvelopesCollection,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithTextsCollection sets the texts collection name.
func WithTextsCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.texts = name
		}
	}
}

// WithEnvelopesCollection sets the envelopes collection name.
func WithEnvelopesCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.envelopes = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
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
