// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry        *prometheus.Registry
	commits         prometheus.Counter
	events          *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	totalSupply     prometheus.Gauge
	streamClients   prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		commits: factory.NewCounter(prometheus.CounterOpts{
			Name: "govtoken_commits_total",
			Help: "Committed state operations",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govtoken_events_total",
			Help: "Committed events by type",
		}, []string{"component", "type"}),
		rejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govtoken_rejections_total",
			Help: "Rejected operations by error kind",
		}, []string{"kind"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "govtoken_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		totalSupply: factory.NewGauge(prometheus.GaugeOpts{
			Name: "govtoken_total_supply",
			Help: "Token total supply",
		}),
		streamClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "govtoken_event_stream_clients",
			Help: "Connected event stream clients",
		}),
	}
}

// RecordCommit counts one committed operation and its events.
func (c *Collector) RecordCommit(events []EventLabel) {
	c.commits.Inc()
	for _, e := range events {
		c.events.WithLabelValues(e.Component, e.Type).Inc()
	}
}

// EventLabel identifies an event for counting.
type EventLabel struct {
	Component string
	Type      string
}

func (c *Collector) RecordRejection(kind string) {
	c.rejections.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordRequest(method, route string, status int, d time.Duration) {
	c.requestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (c *Collector) SetTotalSupply(v float64) {
	c.totalSupply.Set(v)
}

func (c *Collector) StreamClientConnected() {
	c.streamClients.Inc()
}

func (c *Collector) StreamClientDisconnected() {
	c.streamClients.Dec()
}

// Registry exposes the underlying registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
