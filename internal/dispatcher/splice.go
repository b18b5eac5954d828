// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dispatcher

import (
	"io"
	"net"
)

// halfCloser is implemented by the *net.TCPConn-shaped streams the glue
// pair forwards between; a stream that can't half-close (e.g. a TLS or
// AEAD-framed wrapper) is left open on EOF and fully closed only once
// both copy directions have finished.
type halfCloser interface {
	CloseWrite() error
}

// splice runs two mirrored glue handlers between a and b: each copies
// reads from one side to writes on the other until EOF, half-closing
// the destination's write side to propagate that EOF without tearing
// down the still-readable direction, and fully closes both sides once
// both directions have finished (spec.md §4.7 step 8).
func splice(a, b io.ReadWriteCloser) {
	done := make(chan struct{}, 2)

	go func() {
		copyHalfClose(b, a)
		done <- struct{}{}
	}()
	go func() {
		copyHalfClose(a, b)
		done <- struct{}{}
	}()

	<-done
	<-done
	a.Close()
	b.Close()
}

// copyHalfClose copies from src to dst until src hits EOF or an error,
// then half-closes dst's write side if it supports it.
func copyHalfClose(dst io.Writer, src io.Reader) {
	io.Copy(dst, src)
	if hc, ok := dst.(halfCloser); ok {
		hc.CloseWrite()
	}
}

// ensure *net.TCPConn satisfies halfCloser at compile time; other
// streams (TLS, AEAD-framed, WebSocket) simply don't, and fall back to
// the final full Close() once both copy goroutines have returned.
var _ halfCloser = (*net.TCPConn)(nil)
