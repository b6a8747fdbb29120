// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package metrics holds the Prometheus collectors for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so tests can build as many as they like.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	VotesTotal          prometheus.Counter
	RoundsFinalized     *prometheus.CounterVec
	EventsPublished     *prometheus.CounterVec
	RequestDuration     *prometheus.HistogramVec
	RealtimeConnections prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		VotesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookclub_votes_total",
			Help: "Total votes cast across all polls.",
		}),
		RoundsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookclub_rounds_finalized_total",
			Help: "Poll rounds finalized, by outcome.",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bookclub_realtime_events_total",
			Help: "Poll events published to realtime subscribers, by type.",
		}, []string{"type"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bookclub_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, by route, method and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		RealtimeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bookclub_realtime_connections",
			Help: "Open realtime subscriptions.",
		}),
	}

	m.registry.MustRegister(
		m.VotesTotal,
		m.RoundsFinalized,
		m.EventsPublished,
		m.RequestDuration,
		m.RealtimeConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) VoteCast() {
	if m == nil {
		return
	}
	m.VotesTotal.Inc()
}

func (m *Metrics) RoundFinalized(outcome string) {
	if m == nil {
		return
	}
	m.RoundsFinalized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.RealtimeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.RealtimeConnections.Dec()
}
