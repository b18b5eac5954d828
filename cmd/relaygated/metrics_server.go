// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/logging"
	"grimm.is/relaygate/internal/metrics"
)

// metricsHTTPServer serves the collector's Prometheus registry on
// /metrics. It is entirely optional: nothing in the dispatch path
// depends on anything scraping it.
type metricsHTTPServer struct {
	srv *http.Server
}

func startMetrics(addr string, collector *metrics.Collector) (*metricsHTTPServer, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	ln, err := newListener(addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "relaygated: failed to bind metrics listener")
	}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Warn("relaygated: metrics server stopped", "error", err)
		}
	}()

	return &metricsHTTPServer{srv: srv}, nil
}

func (m *metricsHTTPServer) Stop(ctx context.Context) {
	m.srv.Shutdown(ctx)
}

func newListener(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
