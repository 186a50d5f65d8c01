// Package bridge adapts host-side handlers and subscriptions to the abi
// calling convention, in both directions.
//
// Outbound, ImportModule wraps a foreign abi.Module as a module.Handler: each
// call parks on a Call until the foreign side fires its completion callback.
// Inbound, ExportHandler and ExportHandle expose host handlers to foreign
// callers, scheduling the work and guaranteeing a callback even when the
// work is abandoned. ExportSubscription carries a bus subscription across
// the boundary with exactly-once teardown.
package bridge

import (
	"log/slog"

	"github.com/nfrund/modular/internal/metrics"
)

type options struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures the adapters in this package.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics records pending foreign calls into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
