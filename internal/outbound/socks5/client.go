// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package socks5 implements the SOCKS5 outbound protocol client
// (spec.md §4.5, RFC 1928 + RFC 1929). No UDP, no BIND.
package socks5

import (
	"io"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
	"grimm.is/relaygate/internal/socksaddr"
)

const (
	version5 = 0x05

	methodNoAuth       = 0x00
	methodUserPassword = 0x02
	methodNoAcceptable = 0xFF

	cmdConnect = 0x01

	authVersion    = 0x01
	authSuccess    = 0x00
	replySucceeded = 0x00
)

var replyFailedReasons = map[byte]string{
	0x01: "general-failure",
	0x02: "not-allowed",
	0x03: "network-unreachable",
	0x04: "host-unreachable",
	0x05: "connection-refused",
	0x06: "ttl-expired",
	0x07: "command-unsupported",
	0x08: "address-type-unsupported",
}

// Dial performs the SOCKS5 client handshake over conn to destination,
// optionally authenticating with username/password (RFC 1929).
func Dial(conn io.ReadWriter, destination profile.TargetAddress, username, password string) error {
	if err := sendGreeting(conn, username, password); err != nil {
		return err
	}
	method, err := readSelection(conn)
	if err != nil {
		return err
	}
	if method == methodUserPassword {
		if err := authenticate(conn, username, password); err != nil {
			return err
		}
	} else if method != methodNoAuth {
		return errors.Errorf(errors.KindProtocol, "socks5: server selected unsupported method %#x", method)
	}
	return sendConnect(conn, destination)
}

func sendGreeting(conn io.Writer, username, password string) error {
	methods := []byte{methodNoAuth}
	if username != "" || password != "" {
		methods = []byte{methodUserPassword}
	}
	greeting := append([]byte{version5, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return errors.Wrap(err, errors.KindTransport, "socks5: failed to write greeting")
	}
	return nil
}

func readSelection(r io.Reader) (byte, error) {
	buf := make([]byte, 2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, errors.Wrap(err, errors.KindTransport, "socks5: failed to read method selection")
	}
	if buf[0] != version5 {
		return 0, errors.Errorf(errors.KindProtocol, "socks5: unsupported server version %#x", buf[0])
	}
	if buf[1] == methodNoAcceptable {
		return 0, errors.Attr(
			errors.New(errors.KindProtocol, "socks5: server rejected all authentication methods"),
			"reason", "no-valid-method")
	}
	return buf[1], nil
}

func authenticate(conn io.ReadWriter, username, password string) error {
	req := make([]byte, 0, 3+len(username)+len(password))
	req = append(req, authVersion, byte(len(username)))
	req = append(req, username...)
	req = append(req, byte(len(password)))
	req = append(req, password...)
	if _, err := conn.Write(req); err != nil {
		return errors.Wrap(err, errors.KindTransport, "socks5: failed to write auth sub-negotiation")
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return errors.Wrap(err, errors.KindTransport, "socks5: failed to read auth response")
	}
	if resp[1] != authSuccess {
		err := errors.New(errors.KindProtocol, "socks5: authentication failed")
		return errors.Attr(err, "reason", "incorrect-credentials")
	}
	return nil
}

func sendConnect(conn io.ReadWriter, destination profile.TargetAddress) error {
	encoded, err := socksaddr.Encode(destination)
	if err != nil {
		return errors.Wrap(err, errors.KindProtocol, "socks5: failed to encode destination address")
	}
	req := []byte{version5, cmdConnect, 0x00}
	req = append(req, encoded...)
	if _, err := conn.Write(req); err != nil {
		return errors.Wrap(err, errors.KindTransport, "socks5: failed to write CONNECT request")
	}

	header := make([]byte, 3)
	if _, err := io.ReadFull(conn, header); err != nil {
		return errors.Wrap(err, errors.KindTransport, "socks5: failed to read CONNECT reply header")
	}
	if header[0] != version5 {
		return errors.Errorf(errors.KindProtocol, "socks5: unexpected reply version %#x", header[0])
	}

	// The bound-address field is always present, success or failure.
	_, addrErr := socksaddr.Decode(conn)

	if header[1] != replySucceeded {
		reason, ok := replyFailedReasons[header[1]]
		if !ok {
			reason = "unassigned"
		}
		err := errors.New(errors.KindProtocol, "socks5: CONNECT reply failed")
		return errors.Attr(err, "reason", reason)
	}
	if addrErr != nil {
		return errors.Wrap(addrErr, errors.KindProtocol, "socks5: failed to read bound address")
	}
	return nil
}
