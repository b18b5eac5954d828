// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsConnections(t *testing.T) {
	c := NewCollector()
	c.ObserveConnection("http", "DIRECT")
	c.ObserveConnection("http", "DIRECT")
	c.ObserveConnection("socks5", "REJECT")

	if got := testutil.ToFloat64(c.ConnectionsTotal.WithLabelValues("http", "DIRECT")); got != 2 {
		t.Fatalf("expected 2 http/DIRECT connections, got %v", got)
	}
}

func TestCollectorRuleCache(t *testing.T) {
	c := NewCollector()
	c.ObserveRuleCache(true)
	c.ObserveRuleCache(false)
	c.ObserveRuleCache(true)

	if got := testutil.ToFloat64(c.RuleCacheHits); got != 2 {
		t.Fatalf("expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(c.RuleCacheMisses); got != 1 {
		t.Fatalf("expected 1 miss, got %v", got)
	}
}

func TestNilCollectorIsNoOp(t *testing.T) {
	var c *Collector
	c.ObserveConnection("http", "DIRECT")
	c.ObserveRuleCache(true)
	c.ObserveDial("socks5", 0.1)
	c.ObserveDNSLookup(0.01)
	c.ObserveHTTPCapture()
	if c.Registry() != nil {
		t.Fatal("expected nil registry from nil collector")
	}
}
