package ports

import (
	"io"
	"log/slog"
)

// NodeOption configures a Node at construction time.
type NodeOption func(*nodeConfig)

type nodeConfig struct {
	logger  *slog.Logger
	metrics *Metrics

	// Diagnostic tripwire only; never enforced as backpressure.
	portQueueWarnThreshold int
}

func defaultNodeConfig() nodeConfig {
	return nodeConfig{
		logger:                 slog.New(slog.NewJSONHandler(io.Discard, nil)),
		portQueueWarnThreshold: 10000,
	}
}

// WithLogger sets the logger a Node uses for its own diagnostics (dropped
// forwards, protocol-state errors surfaced by a misbehaving peer, and so
// on). Default discards everything.
func WithLogger(logger *slog.Logger) NodeOption {
	return func(c *nodeConfig) {
		c.logger = logger
	}
}

// WithMetrics supplies a Metrics instance for the Node to publish counters
// to, instead of the one it would otherwise create for itself. Use this to
// share one prometheus.Registry across several Node instances in the same
// process.
func WithMetrics(m *Metrics) NodeOption {
	return func(c *nodeConfig) {
		c.metrics = m
	}
}

// WithPortQueueWarnThreshold sets how many buffered messages a single
// port's MessageQueue can hold before the Node logs a warning. Ports have
// no built-in backpressure — a peer that never calls GetMessage can grow a
// queue without bound — so this is purely a diagnostic tripwire, never an
// enforced limit. Default: 10000.
func WithPortQueueWarnThreshold(n int) NodeOption {
	return func(c *nodeConfig) {
		c.portQueueWarnThreshold = n
	}
}
