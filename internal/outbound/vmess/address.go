// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package vmess

import (
	"fmt"

	"grimm.is/relaygate/internal/profile"
)

// VMESS address type octets, distinct from the SOCKS5 atyp constants
// in package socksaddr.
const (
	atypIPv4   byte = 0x01
	atypDomain byte = 0x02
	atypIPv6   byte = 0x03
)

// encodeAddress renders destination in the VMESS request-header wire
// format: port (big-endian, 2 bytes), then atyp, then the address body.
func encodeAddress(destination profile.TargetAddress) ([]byte, error) {
	var out []byte
	out = append(out, byte(destination.Port>>8), byte(destination.Port))

	switch {
	case destination.IsDomainPort():
		if len(destination.Host) > 255 {
			return nil, fmt.Errorf("vmess: domain %q exceeds 255 bytes", destination.Host)
		}
		out = append(out, atypDomain, byte(len(destination.Host)))
		out = append(out, destination.Host...)
	case len(destination.IP) == 4:
		out = append(out, atypIPv4)
		out = append(out, destination.IP...)
	case len(destination.IP) == 16:
		out = append(out, atypIPv6)
		out = append(out, destination.IP...)
	default:
		return nil, fmt.Errorf("vmess: malformed destination address %+v", destination)
	}
	return out, nil
}
