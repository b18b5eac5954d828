// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mitm wires together inline TLS detection (package tlsdetect),
// per-hostname certificate minting (package certstore), and HTTP
// request/response capture (package httpcapture) into the dual TLS
// termination pipeline spec.md §4.8 describes: an inbound TLS server
// handler presenting a minted leaf, an outbound TLS client handler
// talking to the real destination, and an HTTP capture loop sitting
// above both.
package mitm

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"io"
	"net"

	"grimm.is/relaygate/internal/certstore"
	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/httpcapture"
	"grimm.is/relaygate/internal/tlsdetect"
)

// peekBufferSize bounds how much of the inbound ClientHello this
// package buffers to extract the SNI. Handshakes larger than this
// (unusually large extension sets) fall back to passthrough.
const peekBufferSize = 16 * 1024

// Detect peeks br (already wrapping the inbound connection) for a TLS
// ClientHello and, if one is found, extracts its SNI hostname. It
// returns kind=tlsdetect.KindTLS with sni set, kind=tlsdetect.KindHTTP
// for cleartext HTTP, or kind=tlsdetect.KindUnknown otherwise — the
// buffered bytes are never consumed, so the caller can still read them
// normally afterward.
func Detect(br *bufio.Reader) (kind tlsdetect.Kind, sni string, err error) {
	kind, err = tlsdetect.Sniff(br)
	if err != nil || kind != tlsdetect.KindTLS {
		return kind, "", err
	}

	header, err := br.Peek(5)
	if err != nil {
		return tlsdetect.KindTLS, "", nil
	}
	recordLen := int(binary.BigEndian.Uint16(header[3:5]))
	total := 5 + recordLen
	if total > peekBufferSize {
		total = peekBufferSize
	}

	record, err := br.Peek(total)
	if err != nil {
		// Short read: the stream ended or failed before the whole
		// ClientHello record arrived.
		// Treat as TLS with no SNI rather than failing the connection.
		return tlsdetect.KindTLS, "", nil
	}

	sni, parseErr := tlsdetect.SNI(record)
	if parseErr != nil {
		return tlsdetect.KindTLS, "", nil
	}
	return tlsdetect.KindTLS, sni, nil
}

// InterceptTLS runs the dual TLS termination + HTTP capture pipeline:
// present a minted leaf for sni on inbound, open a TLS client to
// outbound (skipping verification per skipVerify), and decode/capture
// HTTP request/response pairs flowing between them. It blocks until the
// capture loop ends.
func InterceptTLS(inbound, outbound net.Conn, sni string, store *certstore.Store, skipVerify bool, sink httpcapture.Sink) error {
	leaf, err := store.CertificateFor(sni)
	if err != nil {
		return errors.Wrap(err, errors.KindConfiguration, "mitm: failed to load certificate")
	}

	serverConn := tls.Server(inbound, &tls.Config{
		Certificates: []tls.Certificate{*leaf},
	})
	if err := serverConn.Handshake(); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "mitm: inbound TLS handshake failed")
	}
	defer serverConn.Close()

	clientConn := tls.Client(outbound, &tls.Config{
		ServerName:         sni,
		InsecureSkipVerify: skipVerify,
	})
	if err := clientConn.Handshake(); err != nil {
		return errors.Wrap(err, errors.KindProtocol, "mitm: outbound TLS handshake failed")
	}
	defer clientConn.Close()

	return httpcapture.Run(serverConn, clientConn, sink)
}

// InterceptCleartext runs the HTTP capture pipeline directly over
// inbound/outbound with no TLS involved, for the "MitM disabled but
// HTTP capture enabled, inbound detected as cleartext HTTP" case
// (spec.md §4.8).
func InterceptCleartext(inbound, outbound io.ReadWriter, sink httpcapture.Sink) error {
	return httpcapture.Run(inbound, outbound, sink)
}
