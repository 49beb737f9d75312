// Package metrics exposes Prometheus counters for renders, extraction,
// persistence and event relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "listing_scraper"

// Collector owns a private registry so tests and multiple instances never
// collide on the global one. A nil *Collector is a valid no-op.
type Collector struct {
	registry *prometheus.Registry

	rendersTotal     *prometheus.CounterVec
	renderDuration   prometheus.Histogram
	rateLimitWait    prometheus.Histogram
	cardsLocated     *prometheus.CounterVec
	cardFaults       prometheus.Counter
	recordsExtracted *prometheus.CounterVec
	recordsPersisted *prometheus.CounterVec
	eventsRelayed    *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		rendersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Page renders by outcome",
		}, []string{"outcome"}),
		renderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering a listing page",
			Buckets:   []float64{1, 2.5, 5, 10, 15, 30, 60, 120},
		}),
		rateLimitWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for the per-host limiter",
			Buckets:   prometheus.DefBuckets,
		}),
		cardsLocated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cards_located_total",
			Help:      "Product cards located, by winning strategy",
		}, []string{"strategy"}),
		cardFaults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "card_faults_total",
			Help:      "Cards skipped because extraction faulted",
		}),
		recordsExtracted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Cards by extraction result",
		}, []string{"result"}),
		recordsPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_persisted_total",
			Help:      "Records handed to the store, by result",
		}, []string{"result"}),
		eventsRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_relayed_total",
			Help:      "Outbox events relayed to Redis, by type and outcome",
		}, []string{"event_type", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) RenderFinished(d time.Duration, err error) {
	if c == nil {
		return
	}
	c.rendersTotal.WithLabelValues(outcome(err)).Inc()
	c.renderDuration.Observe(d.Seconds())
}

func (c *Collector) RateLimitWaited(d time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitWait.Observe(d.Seconds())
}

func (c *Collector) CardsLocated(strategy string, n int) {
	if c == nil {
		return
	}
	c.cardsLocated.WithLabelValues(strategy).Add(float64(n))
}

func (c *Collector) CardFailed() {
	if c == nil {
		return
	}
	c.cardFaults.Inc()
}

func (c *Collector) RecordsExtracted(kept, dropped int) {
	if c == nil {
		return
	}
	c.recordsExtracted.WithLabelValues("kept").Add(float64(kept))
	c.recordsExtracted.WithLabelValues("dropped").Add(float64(dropped))
}

func (c *Collector) BatchPersisted(saved, skipped int) {
	if c == nil {
		return
	}
	c.recordsPersisted.WithLabelValues("saved").Add(float64(saved))
	c.recordsPersisted.WithLabelValues("skipped").Add(float64(skipped))
}

func (c *Collector) EventRelayed(eventType string, err error) {
	if c == nil {
		return
	}
	c.eventsRelayed.WithLabelValues(eventType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
