// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes a small Prometheus registry for the gateway's
// connection-handling path. It is ambient plumbing: the dispatcher calls
// into it (connection counts, dial latency) whether or not anything ever
// scrapes it. The rule-cache, DNS-lookup, HTTP-capture and
// active-connection metrics are registered, but nothing outside this
// package updates them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the gateway's Prometheus metrics. A nil *Collector is
// valid and every method becomes a no-op, so callers that don't wire up
// metrics don't need to guard every call site.
type Collector struct {
	registry *prometheus.Registry

	ConnectionsTotal  *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge
	RuleCacheHits     prometheus.Counter
	RuleCacheMisses   prometheus.Counter
	DialDuration      *prometheus.HistogramVec
	DNSLookupDuration prometheus.Histogram
	HTTPCaptured      prometheus.Counter
}

// NewCollector builds a Collector registered against a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Name:      "connections_total",
			Help:      "Inbound connections accepted, labeled by listener protocol and chosen policy.",
		}, []string{"listener", "policy"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaygate",
			Name:      "connections_active",
			Help:      "Connections currently spliced between inbound and outbound sockets.",
		}),
		RuleCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "rule_cache",
			Name:      "hits_total",
			Help:      "Rule-engine LRU cache hits.",
		}),
		RuleCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "rule_cache",
			Name:      "misses_total",
			Help:      "Rule-engine LRU cache misses.",
		}),
		DialDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaygate",
			Name:      "outbound_dial_seconds",
			Help:      "Time to establish an outbound connection, labeled by protocol.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),
		DNSLookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relaygate",
			Name:      "dns_lookup_seconds",
			Help:      "Time to resolve a domain-port target's A/AAAA records.",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaygate",
			Name:      "http_captured_total",
			Help:      "HTTP request/response pairs captured by the MitM pipeline.",
		}),
	}

	reg.MustRegister(
		c.ConnectionsTotal, c.ConnectionsActive, c.RuleCacheHits,
		c.RuleCacheMisses, c.DialDuration, c.DNSLookupDuration, c.HTTPCaptured,
	)
	return c
}

// Registry returns the underlying Prometheus registry for exposition.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ObserveConnection(listener, policy string) {
	if c == nil {
		return
	}
	c.ConnectionsTotal.WithLabelValues(listener, policy).Inc()
}

func (c *Collector) ObserveRuleCache(hit bool) {
	if c == nil {
		return
	}
	if hit {
		c.RuleCacheHits.Inc()
	} else {
		c.RuleCacheMisses.Inc()
	}
}

func (c *Collector) ObserveDial(protocol string, seconds float64) {
	if c == nil {
		return
	}
	c.DialDuration.WithLabelValues(protocol).Observe(seconds)
}

func (c *Collector) ObserveDNSLookup(seconds float64) {
	if c == nil {
		return
	}
	c.DNSLookupDuration.Observe(seconds)
}

func (c *Collector) ObserveHTTPCapture() {
	if c == nil {
		return
	}
	c.HTTPCaptured.Inc()
}
