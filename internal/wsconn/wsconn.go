// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package wsconn wraps an already-connected (and already TLS-wrapped,
// if applicable) net.Conn in a client-side WebSocket upgrade and
// binary-frame io.ReadWriter, per spec.md §4.6. It builds on
// github.com/gorilla/websocket rather than hand-rolling RFC 6455
// framing: the library already masks every client frame, negotiates
// Sec-WebSocket-Key/Accept, and answers ping with pong by default.
package wsconn

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/relaygate/internal/errors"
)

// MaxFrameSize is the decoder-enforced maximum WebSocket frame size
// (spec.md §4.6).
const MaxFrameSize = 16384

// Conn adapts a client-side *websocket.Conn to io.ReadWriter: every
// Write becomes one or more final binary frames (each gorilla-masked
// with a fresh 4-byte mask); Read drains one message at a time,
// buffering any remainder.
type Conn struct {
	ws      *websocket.Conn
	readBuf []byte
}

// Dial performs the HTTP/1.1 upgrade (GET path, Upgrade: websocket,
// Sec-WebSocket-Version: 13, a randomly generated Sec-WebSocket-Key)
// over conn and returns a Conn ready to carry binary frames. conn is
// already connected and already TLS-wrapped if the policy calls for it;
// scheme controls whether the request line reads ws:// or wss://
// (cosmetic only — conn's own transport is what actually carries TLS).
func Dial(conn net.Conn, scheme, host, path string) (*Conn, error) {
	u := &url.URL{Scheme: scheme, Host: host, Path: path}
	if u.Path == "" {
		u.Path = "/"
	}

	ws, resp, err := websocket.NewClient(conn, u, http.Header{}, 0, 0)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindProtocol, "wsconn: upgrade handshake failed")
	}
	if resp != nil {
		defer resp.Body.Close()
	}

	ws.SetReadLimit(MaxFrameSize)
	ws.SetCloseHandler(rewritingCloseHandler(ws))

	return &Conn{ws: ws}, nil
}

// rewritingCloseHandler echoes the peer's close code back, rewriting
// 1005 (no status received) and 1006 (abnormal closure) to 1000
// (normal closure) per spec.md §4.6 — those two codes are never valid
// to send on the wire, only to report locally.
func rewritingCloseHandler(ws *websocket.Conn) func(code int, text string) error {
	return func(code int, text string) error {
		if code == websocket.CloseNoStatusReceived || code == websocket.CloseAbnormalClosure {
			code = websocket.CloseNormalClosure
		}
		message := websocket.FormatCloseMessage(code, "")
		_ = ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(5*time.Second))
		return nil
	}
}

// Write sends p as one or more final binary frames of at most
// MaxFrameSize bytes each.
func (c *Conn) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := len(p)
		if n > MaxFrameSize {
			n = MaxFrameSize
		}
		if err := c.ws.WriteMessage(websocket.BinaryMessage, p[:n]); err != nil {
			return 0, errors.Wrap(err, errors.KindTransport, "wsconn: failed to write frame")
		}
		p = p[n:]
	}
	return total, nil
}

// Read returns the next message's payload, draining continuation/text/
// binary frames via gorilla's message reassembly; ping/pong/close are
// handled transparently by the library's control-frame handlers.
func (c *Conn) Read(p []byte) (int, error) {
	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return 0, errors.Wrap(err, errors.KindTransport, "wsconn: failed to read frame")
	}
	n := copy(p, data)
	if n < len(data) {
		c.readBuf = data[n:]
	}
	return n, nil
}

// Close closes the underlying WebSocket connection.
func (c *Conn) Close() error { return c.ws.Close() }
