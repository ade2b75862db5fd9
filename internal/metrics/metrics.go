// Package metrics exposes Prometheus metrics for running bots.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/villakit/villa/pkg/bot"
	"github.com/villakit/villa/pkg/event"
)

const namespace = "villa"

// Metrics holds the bot metrics of one registry.
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal *prometheus.CounterVec
	eventBytes  *prometheus.CounterVec
}

// New creates the metrics. active reports the number of running bots and is
// sampled on every scrape; it may be nil.
func New(active func() int) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of robot events received",
		}, []string{"bot", "kind"}),
		eventBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_bytes_total",
			Help:      "Total size of received robot event payloads",
		}, []string{"bot"}),
	}
	if active != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_bots",
			Help:      "Number of bots currently connected",
		}, func() float64 { return float64(active()) })
	}
	return m
}

// Observe counts b's events through a pre-processor.
func (m *Metrics) Observe(b *bot.Bot) *event.Registration {
	id := b.ID()
	return b.AddPreProcessor(func(_ context.Context, ev *event.Event, src *event.Source) error {
		m.eventsTotal.WithLabelValues(id, ev.Kind().String()).Inc()
		if src != nil && src.Frame != nil {
			m.eventBytes.WithLabelValues(id).Add(float64(len(src.Frame.Body)))
		}
		return nil
	})
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
