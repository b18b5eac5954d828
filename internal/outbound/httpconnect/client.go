// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpconnect implements the HTTP-CONNECT outbound protocol
// client (spec.md §4.5, RFC 7231 §4.3.6): emit a CONNECT request,
// require a 2xx response, then treat the stream as raw bytes.
package httpconnect

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/profile"
)

// Dial performs the CONNECT handshake over conn (already connected,
// and already TLS/WebSocket-wrapped if the policy calls for it) to
// destination, optionally authenticating with username/password.
func Dial(conn io.ReadWriter, destination profile.TargetAddress, username, password string) error {
	addr := destination.String()

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if username != "" || password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", cred)
	}
	req += "\r\n"

	if _, err := io.WriteString(conn, req); err != nil {
		return errors.Wrap(err, errors.KindTransport, "httpconnect: failed to write CONNECT request")
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return errors.Wrap(err, errors.KindProtocol, "httpconnect: failed to read CONNECT response")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf(errors.KindProtocol, "httpconnect: proxy refused CONNECT: %s", resp.Status)
	}
	return nil
}
