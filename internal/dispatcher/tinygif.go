// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dispatcher

import (
	"io"
	"strconv"
)

// tinyGIF is a 1x1 transparent GIF, the canned body REJECT-TINYGIF
// serves in place of closing the connection outright — it keeps image
// tags from rendering as broken-image icons instead of just vanishing.
var tinyGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

// writeTinyGIFResponse serves tinyGIF as a minimal HTTP/1.1 response.
// It only makes sense on a connection where the client is still
// expecting an HTTP response — a non-tunnel proxy request. CONNECT
// tunnels and SOCKS5 sessions have no HTTP framing left to answer on,
// so those get the same failure reply as REJECT (502 for CONNECT,
// host-unreachable for SOCKS5).
func writeTinyGIFResponse(w io.Writer) error {
	header := "HTTP/1.1 200 OK\r\n" +
		"Content-Type: image/gif\r\n" +
		"Content-Length: " + strconv.Itoa(len(tinyGIF)) + "\r\n" +
		"Connection: close\r\n\r\n"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err := w.Write(tinyGIF)
	return err
}
