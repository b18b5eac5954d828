// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package tlsdetect inspects the first bytes of an inbound connection
// to tell a TLS ClientHello from cleartext HTTP, and extracts the SNI
// hostname from a ClientHello for MitM hostname matching (spec.md §4.8).
package tlsdetect

import (
	"bufio"

	"github.com/dreadl0ck/tlsx"

	"grimm.is/relaygate/internal/errors"
)

// Kind tags what Sniff found in the first bytes of a connection.
type Kind int

const (
	KindUnknown Kind = iota
	KindTLS
	KindHTTP
)

// httpMethodLeadingBytes are the first bytes of every HTTP/1.1 request
// line this gateway recognizes as cleartext HTTP (spec.md §4.8: "a byte
// in the printable HTTP-method set").
var httpMethodLeadingBytes = map[byte]bool{
	'G': true, // GET
	'P': true, // POST, PUT, PATCH
	'H': true, // HEAD
	'D': true, // DELETE
	'O': true, // OPTIONS
	'T': true, // TRACE
	'C': true, // CONNECT
}

// IsClientHello reports whether the first three bytes of a TCP stream
// look like a TLS record carrying a ClientHello: 0x16 (handshake)
// followed by 0x03 0x0{1,2,3} (TLS 1.0/1.1/1.2 record version — TLS 1.3
// still advertises 0x0303 at the record layer).
func IsClientHello(b [3]byte) bool {
	return b[0] == 0x16 && b[1] == 0x03 && b[2] >= 0x01 && b[2] <= 0x03
}

// IsHTTPMethodByte reports whether b could begin a cleartext HTTP
// request line.
func IsHTTPMethodByte(b byte) bool { return httpMethodLeadingBytes[b] }

// Sniff peeks at the first bytes br has buffered (without consuming
// them) and classifies the connection as TLS, HTTP, or unknown.
func Sniff(br *bufio.Reader) (Kind, error) {
	peek, err := br.Peek(3)
	if err != nil {
		if len(peek) >= 1 && IsHTTPMethodByte(peek[0]) {
			return KindHTTP, nil
		}
		return KindUnknown, err
	}
	var b [3]byte
	copy(b[:], peek)
	if IsClientHello(b) {
		return KindTLS, nil
	}
	if IsHTTPMethodByte(b[0]) {
		return KindHTTP, nil
	}
	return KindUnknown, nil
}

// SNI parses record as a TLS record containing a ClientHello and
// returns the SNI hostname extension, or "" if none is present.
func SNI(record []byte) (string, error) {
	var hello tlsx.ClientHelloBasic
	if err := hello.Unmarshal(record); err != nil {
		return "", errors.Wrap(err, errors.KindProtocol, "tlsdetect: failed to parse ClientHello")
	}
	return hello.SNI, nil
}
