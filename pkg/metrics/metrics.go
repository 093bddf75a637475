// Package metrics exposes Prometheus instrumentation for duplex connections.
//
// All recording methods are safe to call on a nil *Metrics, so components
// accept an optional collector without guarding every call site.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collector.
type Config struct {
	// Namespace is the metrics namespace (default: "duplex").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for dispatch duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the collector.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) Option {
	return func(c *Config) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "duplex",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics holds the collectors for one registry.
type Metrics struct {
	framesReceived    *prometheus.CounterVec
	decodeErrors      *prometheus.CounterVec
	dispatchTotal     *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	repliesSent       *prometheus.CounterVec
	encodingFallbacks prometheus.Counter
	framesSent        prometheus.Counter
	sendErrors        *prometheus.CounterVec
	connectionState   *prometheus.GaugeVec
	connectsTotal     *prometheus.CounterVec
	reconnectsTotal   *prometheus.CounterVec
}

// New registers a collector set with the configured registry.
// Registering twice on the same registry panics.
func New(opts ...Option) *Metrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_received_total",
			Help:        "Total number of inbound frames by detected format",
			ConstLabels: config.ConstLabels,
		}, []string{"format"}),

		decodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "decode_errors_total",
			Help:        "Total number of inbound frames dropped as undecodable",
			ConstLabels: config.ConstLabels,
		}, []string{"format"}),

		dispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_total",
			Help:        "Total number of dispatched envelopes by type and status",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "status"}),

		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "dispatch_duration_seconds",
			Help:        "Handler execution time in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"type"}),

		repliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "replies_sent_total",
			Help:        "Total number of replies sent by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"status"}),

		encodingFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "encoding_fallbacks_total",
			Help:        "Total number of replies downgraded after an encoding failure",
			ConstLabels: config.ConstLabels,
		}),

		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "frames_sent_total",
			Help:        "Total number of outbound frames written",
			ConstLabels: config.ConstLabels,
		}),

		sendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "send_errors_total",
			Help:        "Total number of failed sends by reason",
			ConstLabels: config.ConstLabels,
		}, []string{"reason"}),

		connectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connection_state",
			Help:        "1 for the current connection state, 0 for the others",
			ConstLabels: config.ConstLabels,
		}, []string{"state"}),

		connectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connects_total",
			Help:        "Total number of dial attempts by result",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_total",
			Help:        "Total number of reconnect timer expiries by mode",
			ConstLabels: config.ConstLabels,
		}, []string{"mode"}),
	}
}

var (
	defaultMetrics   *Metrics
	defaultMetricsMu sync.Mutex
)

// Default returns the collector registered on prometheus.DefaultRegisterer,
// creating it on first use.
func Default() *Metrics {
	defaultMetricsMu.Lock()
	defer defaultMetricsMu.Unlock()
	if defaultMetrics == nil {
		defaultMetrics = New()
	}
	return defaultMetrics
}

// RecordFrame records an inbound frame of the given format.
func (m *Metrics) RecordFrame(format string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(format).Inc()
}

// RecordDecodeError records a dropped frame.
func (m *Metrics) RecordDecodeError(format string) {
	if m == nil {
		return
	}
	m.decodeErrors.WithLabelValues(format).Inc()
}

// RecordDispatch records one handler invocation.
func (m *Metrics) RecordDispatch(kind string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failure"
	}
	m.dispatchTotal.WithLabelValues(kind, status).Inc()
	m.dispatchDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// RecordReply records a reply send attempt. Status is one of "ok", "error",
// "fallback" or "dropped".
func (m *Metrics) RecordReply(status string) {
	if m == nil {
		return
	}
	m.repliesSent.WithLabelValues(status).Inc()
}

// RecordEncodingFallback records a reply replaced by an encoding failure
// notice.
func (m *Metrics) RecordEncodingFallback() {
	if m == nil {
		return
	}
	m.encodingFallbacks.Inc()
}

// RecordSend records a frame written to the socket.
func (m *Metrics) RecordSend() {
	if m == nil {
		return
	}
	m.framesSent.Inc()
}

// RecordSendError records a failed send.
func (m *Metrics) RecordSendError(reason string) {
	if m == nil {
		return
	}
	m.sendErrors.WithLabelValues(reason).Inc()
}

// SetState marks state as current and clears every state in all.
func (m *Metrics) SetState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.connectionState.WithLabelValues(s).Set(0)
	}
	m.connectionState.WithLabelValues(state).Set(1)
}

// RecordConnect records a dial attempt.
func (m *Metrics) RecordConnect(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.connectsTotal.WithLabelValues(result).Inc()
}

// RecordReconnect records a reconnect timer expiry.
func (m *Metrics) RecordReconnect(mode string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(mode).Inc()
}
