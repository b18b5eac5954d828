// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package resolve issues parallel A/AAAA lookups for the dispatcher's
// rule-pattern construction (spec.md §4.7 step 3). DNS failure is not
// fatal: the caller falls back to the bare domain name.
package resolve

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"

	"grimm.is/relaygate/internal/logging"
)

// Resolver issues upstream DNS queries over one or more servers.
type Resolver struct {
	Servers []string // "host:port"; falls back to system resolver if empty
	Timeout time.Duration
}

// New builds a Resolver against servers, defaulting to a 3s per-query
// timeout.
func New(servers []string) *Resolver {
	return &Resolver{Servers: servers, Timeout: 3 * time.Second}
}

// Lookup runs parallel A and AAAA queries for host and merges the
// results. A failure on one query type does not fail the other; an
// error is only returned when both fail (or no servers are usable),
// and even then the caller should treat it as non-fatal per spec.md
// §4.7.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	if len(r.Servers) == 0 {
		return r.systemLookup(ctx, host)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ips []net.IP
	var lastErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		found, err := r.query(host, dns.TypeA)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			lastErr = err
			return
		}
		ips = append(ips, found...)
	}()
	go func() {
		defer wg.Done()
		found, err := r.query(host, dns.TypeAAAA)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			lastErr = err
			return
		}
		ips = append(ips, found...)
	}()
	wg.Wait()

	if len(ips) == 0 && lastErr != nil {
		logging.Warn("resolve: lookup failed, falling back to domain name", "host", host, "error", lastErr)
		return nil, lastErr
	}
	return ips, nil
}

func (r *Resolver) query(host string, qtype uint16) ([]net.IP, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: r.Timeout}

	var lastErr error
	for _, server := range r.Servers {
		resp, _, err := client.Exchange(msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		return extractIPs(resp), nil
	}
	return nil, lastErr
}

func (r *Resolver) systemLookup(ctx context.Context, host string) ([]net.IP, error) {
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

func extractIPs(msg *dns.Msg) []net.IP {
	var ips []net.IP
	for _, rr := range msg.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			ips = append(ips, rec.A)
		case *dns.AAAA:
			ips = append(ips, rec.AAAA)
		}
	}
	return ips
}
