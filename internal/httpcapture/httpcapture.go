// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package httpcapture decodes both directions of an HTTP(S) connection
// the MitM pipeline has already TLS-terminated (or a cleartext HTTP
// connection when MitM is disabled but capture is enabled), logs
// request/response pairs, and forwards bytes unmodified to the real
// peer (spec.md §4.8).
package httpcapture

import (
	"bufio"
	"bytes"
	"compress/flate"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"

	"grimm.is/relaygate/internal/errors"
	"grimm.is/relaygate/internal/logging"
)

// maxCapturedBody bounds how much of a request/response body is read
// into a Record; larger bodies are forwarded in full but only this
// many bytes are logged.
const maxCapturedBody = 64 * 1024

// Record is one captured request/response pair, emitted to the
// observability sink (spec.md §6.5).
type Record struct {
	Method          string
	URL             string
	Status          string
	StatusCode      int
	RequestHeaders  http.Header
	ResponseHeaders http.Header
	RequestBody     []byte
	ResponseBody    []byte
}

// Sink receives captured request/response pairs.
type Sink interface {
	Capture(Record)
}

// LoggingSink emits each Record through internal/logging at info level.
type LoggingSink struct{}

func (LoggingSink) Capture(r Record) {
	logging.Info("httpcapture: request/response pair",
		"method", r.Method,
		"url", r.URL,
		"status", r.Status,
		"request_headers", len(r.RequestHeaders),
		"response_headers", len(r.ResponseHeaders),
		"request_body_bytes", len(r.RequestBody),
		"response_body_bytes", len(r.ResponseBody),
	)
}

// Run decodes HTTP requests arriving on client, forwards each to
// upstream, decodes the matching response, forwards it back to client,
// and emits a Record per pair to sink. It returns when client's request
// stream ends (EOF) or a decode/forward error occurs.
func Run(client io.ReadWriter, upstream io.ReadWriter, sink Sink) error {
	if sink == nil {
		sink = LoggingSink{}
	}
	clientReader := bufio.NewReader(client)
	upstreamReader := bufio.NewReader(upstream)

	for {
		req, err := http.ReadRequest(clientReader)
		if err != nil {
			// Any failure to decode the *next* request is treated as a
			// clean end of stream: the client closed or reset the
			// connection between requests, not mid-exchange.
			return nil
		}

		reqBody, err := captureAndRestore(&req.Body)
		if err != nil {
			return errors.Wrap(err, errors.KindProtocol, "httpcapture: failed to buffer request body")
		}

		if err := req.Write(upstream); err != nil {
			return errors.Wrap(err, errors.KindTransport, "httpcapture: failed to forward request upstream")
		}

		resp, err := http.ReadResponse(upstreamReader, req)
		if err != nil {
			return errors.Wrap(err, errors.KindProtocol, "httpcapture: failed to decode upstream response")
		}

		respBody, err := captureAndRestore(&resp.Body)
		if err != nil {
			return errors.Wrap(err, errors.KindProtocol, "httpcapture: failed to buffer response body")
		}
		decodedRespBody := decompress(resp.Header.Get("Content-Encoding"), respBody)

		if err := resp.Write(client); err != nil {
			return errors.Wrap(err, errors.KindTransport, "httpcapture: failed to forward response to client")
		}

		sink.Capture(Record{
			Method:          req.Method,
			URL:             req.URL.String(),
			Status:          resp.Status,
			StatusCode:      resp.StatusCode,
			RequestHeaders:  req.Header,
			ResponseHeaders: resp.Header,
			RequestBody:     reqBody,
			ResponseBody:    decodedRespBody,
		})
	}
}

// captureAndRestore reads up to maxCapturedBody bytes from *body for
// logging, then replaces *body with a reader that replays those bytes
// followed by whatever remains, so the caller can still forward the
// full body downstream.
func captureAndRestore(body *io.ReadCloser) ([]byte, error) {
	if *body == nil {
		return nil, nil
	}
	limited := io.LimitReader(*body, maxCapturedBody)
	captured, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	*body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(captured), *body), *body}
	return captured, nil
}

// decompress best-effort decodes body per contentEncoding for logging
// purposes only; the original (still-compressed) bytes are what was
// forwarded to the peer.
func decompress(contentEncoding string, body []byte) []byte {
	switch contentEncoding {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return body
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return body
		}
		return out
	case "deflate":
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return body
		}
		return out
	default:
		return body
	}
}
