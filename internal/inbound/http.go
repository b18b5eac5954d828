// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package inbound implements the two client-facing handshakes a gateway
// listener terminates before handing the connection to the dispatcher:
// an HTTP proxy (CONNECT and absolute-URI requests) and a SOCKS5 proxy
// (RFC 1928 + RFC 1929, CONNECT command only), per spec.md §4.4.
package inbound

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
)

// connectEstablished is the reply an HTTP proxy sends once the outbound
// connect has succeeded and it is ready to splice raw bytes.
const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// connectFailed is the reply a CONNECT client gets when the outbound
// dial fails; non-tunnel clients just see the connection close.
const connectFailed = "HTTP/1.1 502 Bad Gateway\r\nContent-Length: 0\r\n\r\n"

// HTTPHandshake is the result of terminating an inbound HTTP proxy
// request: the destination to dial, whether the request was a CONNECT
// tunnel, and (for a non-CONNECT request) the original request bytes
// that must be replayed to the outbound connection once established.
type HTTPHandshake struct {
	Destination profile.TargetAddress
	// Tunnel is true for CONNECT. The dispatcher acknowledges a tunnel
	// with AckSuccess only after the outbound connect succeeds
	// (spec.md §5: replies follow the outbound connect).
	Tunnel bool
	// Replay holds the original request line + headers + any
	// already-buffered body for a non-CONNECT request. Nil for CONNECT,
	// which has nothing left to replay after the 200.
	Replay []byte
}

// NegotiateHTTP reads one HTTP request from br and returns the
// destination it names. No reply is written here: CONNECT tunnels are
// acknowledged by the dispatcher via AckSuccess/AckFailure once the
// outbound connect settles, and non-CONNECT requests are never answered
// locally — the buffered request is replayed to the origin instead.
func NegotiateHTTP(br *bufio.Reader) (HTTPHandshake, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return HTTPHandshake{}, errors.Wrap(err, errors.KindProtocol, "inbound: failed to read HTTP proxy request")
	}

	if req.Method == http.MethodConnect {
		dest, err := destinationFromAuthority(req.Host)
		if err != nil {
			return HTTPHandshake{}, err
		}
		return HTTPHandshake{Destination: dest, Tunnel: true}, nil
	}

	if req.URL == nil || req.URL.Host == "" {
		return HTTPHandshake{}, errors.New(errors.KindProtocol, "inbound: non-CONNECT request is missing an absolute URI")
	}
	dest, err := destinationFromAuthority(req.URL.Host)
	if err != nil {
		return HTTPHandshake{}, err
	}

	var buf bytes.Buffer
	if err := req.Write(&buf); err != nil {
		return HTTPHandshake{}, errors.Wrap(err, errors.KindProtocol, "inbound: failed to re-serialize request for replay")
	}
	return HTTPHandshake{Destination: dest, Replay: buf.Bytes()}, nil
}

// AckSuccess writes the 200 Connection Established reply for a CONNECT
// tunnel. Non-tunnel requests get no local reply; splicing begins
// immediately.
func (h HTTPHandshake) AckSuccess(conn io.Writer) error {
	if !h.Tunnel {
		return nil
	}
	if _, err := io.WriteString(conn, connectEstablished); err != nil {
		return errors.Wrap(err, errors.KindTransport, "inbound: failed to write CONNECT reply")
	}
	return nil
}

// AckFailure answers a CONNECT tunnel whose outbound connect failed
// with a 502 before the caller closes the connection. Non-tunnel
// requests are simply closed.
func (h HTTPHandshake) AckFailure(conn io.Writer) error {
	if !h.Tunnel {
		return nil
	}
	_, err := io.WriteString(conn, connectFailed)
	return err
}
