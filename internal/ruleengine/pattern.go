// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package ruleengine evaluates a TargetAddress's resolved patterns
// against a profile's ordered rule list, with an LRU cache keyed by
// pattern.
package ruleengine

import (
	"net"

	"grimm.is/relaygate/internal/profile"
)

// PatternsFor builds the ordered pattern list the rule engine tries for
// addr: [host, ip1, ip2, ...] for a domain-port address that resolved to
// resolvedIPs (possibly empty, if DNS failed — that is not fatal, the
// domain name alone is still tried), or the single IP literal for a
// socket address.
func PatternsFor(addr profile.TargetAddress, resolvedIPs []net.IP) []string {
	if !addr.IsDomainPort() {
		return []string{ipLiteral(addr)}
	}

	patterns := make([]string, 0, 1+len(resolvedIPs))
	patterns = append(patterns, addr.Host)
	for _, ip := range resolvedIPs {
		patterns = append(patterns, ip.String())
	}
	return patterns
}

func ipLiteral(addr profile.TargetAddress) string {
	return net.IP(addr.IP).String()
}
