// Package metrics exports bot activity in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/batalabs/soundgrab/internal/domain"
)

const namespace = "soundgrab"

// Metrics holds the bot's collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	updates        *prometheus.CounterVec
	commands       *prometheus.CounterVec
	listings       *prometheus.CounterVec
	toolLatency    *prometheus.HistogramVec
	deliveries     *prometheus.CounterVec
	deliveryBytes  prometheus.Histogram
	evictions      prometheus.Counter
	callbackErrors *prometheus.CounterVec
}

// New creates a Metrics with its own registry. activeSessions, if non-nil,
// is sampled on every scrape.
func New(activeSessions func() int) *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.updates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "updates_total",
		Help:      "Telegram updates received, by type.",
	}, []string{"type"})

	m.commands = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Slash commands handled, by command.",
	}, []string{"command"})

	m.listings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listings_total",
		Help:      "Search and likes requests, by flow and result.",
	}, []string{"flow", "result"})

	m.toolLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_duration_seconds",
		Help:      "yt-dlp run time in seconds, by operation.",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"op"})

	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Download attempts, by outcome.",
	}, []string{"outcome"})

	m.deliveryBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "delivery_bytes",
		Help:      "Size of audio files sent.",
		Buckets:   prometheus.ExponentialBuckets(256*1024, 2, 9),
	})

	m.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_evicted_total",
		Help:      "Chat sessions dropped after the idle TTL.",
	})

	m.callbackErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "callback_errors_total",
		Help:      "Button presses rejected, by reason.",
	}, []string{"reason"})

	m.registry.MustRegister(
		m.updates, m.commands, m.listings, m.toolLatency,
		m.deliveries, m.deliveryBytes, m.evictions, m.callbackErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if activeSessions != nil {
		m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Chat sessions currently held in memory.",
		}, func() float64 { return float64(activeSessions()) }))
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Update counts one inbound update of the given type ("message", "callback").
func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

// Command counts one handled slash command.
func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

// Listing records one search or likes request and the tool time it took.
func (m *Metrics) Listing(flow, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.listings.WithLabelValues(flow, result).Inc()
	m.toolLatency.WithLabelValues(flow).Observe(took.Seconds())
}

// Fetch records the time spent downloading one track.
func (m *Metrics) Fetch(took time.Duration) {
	if m == nil {
		return
	}
	m.toolLatency.WithLabelValues("fetch").Observe(took.Seconds())
}

// Delivery records one download outcome. size is ignored unless the audio
// was sent.
func (m *Metrics) Delivery(o domain.Outcome, size int64) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(string(o)).Inc()
	if o == domain.OutcomeDelivered && size > 0 {
		m.deliveryBytes.Observe(float64(size))
	}
}

// SessionEvicted counts one expired chat session.
func (m *Metrics) SessionEvicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// CallbackRejected counts one button press that could not be served.
func (m *Metrics) CallbackRejected(reason string) {
	if m == nil {
		return
	}
	m.callbackErrors.WithLabelValues(reason).Inc()
}
