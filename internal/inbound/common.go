// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inbound

import (
	"net"
	"strconv"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
)

// defaultHTTPPort is used for an absolute-URI request that names a host
// but no port (plain "http://example.com/").
const defaultHTTPPort = 80

// destinationFromAuthority parses a "host", "host:port", or
// "[ipv6]:port" authority (as found in a CONNECT request-target or an
// absolute-URI's Host) into a TargetAddress.
func destinationFromAuthority(authority string) (profile.TargetAddress, error) {
	host, portStr, err := net.SplitHostPort(authority)
	if err != nil {
		// No port present: treat the whole string as the host and fall
		// back to the plaintext HTTP default.
		host = authority
		portStr = ""
	}

	port := defaultHTTPPort
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return profile.TargetAddress{}, errors.Wrapf(err, errors.KindProtocol, "inbound: invalid port in authority %q", authority)
		}
	}
	if port < 1 || port > 65535 {
		return profile.TargetAddress{}, errors.Errorf(errors.KindProtocol, "inbound: port %d out of range in authority %q", port, authority)
	}

	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return profile.NewSocketAddress(v4, uint16(port))
		}
		return profile.NewSocketAddress(ip.To16(), uint16(port))
	}

	dest, err := profile.NewDomainPort(host, uint16(port))
	if err != nil {
		return profile.TargetAddress{}, errors.Wrapf(err, errors.KindProtocol, "inbound: invalid authority %q", authority)
	}
	return dest, nil
}
